package action

import (
	"encoding/json"
	"fmt"
)

// ToolCall 是一次规范化的工具调用请求。
type ToolCall struct {
	Args Args
}

// Call 构造工具调用。
func Call(args Args) ToolCall { return ToolCall{Args: args} }

// Name 返回工具名。
func (c ToolCall) Name() string {
	if c.Args == nil {
		return ""
	}
	return c.Args.Tool()
}

// Payload 在写操作时返回对应的动作参数。
func (c ToolCall) Payload() (Payload, bool) {
	p, ok := c.Args.(Payload)
	return p, ok
}

// IsWrite 判断调用是否有副作用，写操作必须经过确认闸门。
func (c ToolCall) IsWrite() bool {
	_, ok := c.Payload()
	return ok
}

// Validate 校验工具在白名单内且参数合法。
func (c ToolCall) Validate() error {
	if c.Args == nil {
		return invalid("tool call has no arguments")
	}
	if !IsKnownTool(c.Name()) {
		return xerrorsUnknownTool(c.Name())
	}
	return c.Args.Validate()
}

// Fingerprint 返回工具名与参数的规范化表示，用于识别重复调用。
func (c ToolCall) Fingerprint() string {
	encoded, err := json.Marshal(c.Args)
	if err != nil {
		return c.Name() + ":?"
	}
	return c.Name() + ":" + string(encoded)
}

func (c ToolCall) String() string { return c.Fingerprint() }

type wireCall struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// MarshalJSON 输出 {tool, args}。
func (c ToolCall) MarshalJSON() ([]byte, error) {
	args, err := json.Marshal(c.Args)
	if err != nil {
		return nil, fmt.Errorf("encode args for %s: %w", c.Name(), err)
	}
	return json.Marshal(wireCall{Tool: c.Name(), Args: args})
}

// UnmarshalJSON 按工具名严格解析参数。
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var wire wireCall
	if err := json.Unmarshal(data, &wire); err != nil {
		return invalid(fmt.Sprintf("malformed tool call: %v", err))
	}
	args, err := DecodeArgs(wire.Tool, wire.Args)
	if err != nil {
		return err
	}
	c.Args = args
	return nil
}
