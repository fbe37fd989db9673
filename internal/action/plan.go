package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "Sentellent-Agent/internal/errors"
)

// Source 标识计划的来源。
type Source string

const (
	SourceRouter   Source = "router"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// MaxPlanCalls 限制单个计划中的工具调用数量。
const MaxPlanCalls = 8

// Plan 是一轮对话中按顺序执行的工具调用。
type Plan struct {
	Reply     string     `json:"response"`
	NeedsMore bool       `json:"needs_more"`
	Calls     []ToolCall `json:"plan"`
	Source    Source     `json:"-"`
}

// Empty 判断计划是否没有任何调用。
func (p *Plan) Empty() bool { return p == nil || len(p.Calls) == 0 }

// Validate 对计划中的每个调用做与 LLM 输出相同的校验。
func (p *Plan) Validate() error {
	if p == nil {
		return invalid("plan is missing")
	}
	if len(p.Calls) > MaxPlanCalls {
		return invalid(fmt.Sprintf("plan has %d calls, limit is %d", len(p.Calls), MaxPlanCalls))
	}
	for i, call := range p.Calls {
		if err := call.Validate(); err != nil {
			return xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("step %d (%s) rejected", i+1, call.Name()))
		}
	}
	return nil
}

// DecodePlan 解析大模型返回的结构化计划，任何不符合约定的输出都视为规划失败。
func DecodePlan(raw string) (*Plan, error) {
	body := ExtractJSON(raw)
	if body == "" {
		return nil, xerrors.New(CodePlanningFailure, "planner returned no JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return nil, xerrors.Wrap(CodePlanningFailure, err, "planner output does not match the plan schema")
	}
	if dec.More() {
		return nil, xerrors.New(CodePlanningFailure, "planner output has trailing data")
	}
	if err := plan.Validate(); err != nil {
		return nil, xerrors.Wrap(CodePlanningFailure, err, "planner output failed validation")
	}
	plan.Source = SourceLLM
	return &plan, nil
}

// ExtractJSON 去掉代码围栏并截取第一个 JSON 对象。
func ExtractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return ""
	}
	return candidate
}

// PlanSchema 返回用于结构化输出的 JSON Schema。
func PlanSchema() map[string]any {
	reads, writes := Tools()
	tools := append(append([]string{}, reads...), writes...)
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"response", "needs_more", "plan"},
		"properties": map[string]any{
			"response":   map[string]any{"type": "string"},
			"needs_more": map[string]any{"type": "boolean"},
			"plan": map[string]any{
				"type":     "array",
				"maxItems": MaxPlanCalls,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"tool", "args"},
					"properties": map[string]any{
						"tool": map[string]any{"type": "string", "enum": tools},
						"args": map[string]any{"type": "object"},
					},
				},
			},
		},
	}
}

// SchemaJSON 返回序列化后的计划 Schema。
func SchemaJSON() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	_ = enc.Encode(PlanSchema())
	return buf.Bytes()
}
