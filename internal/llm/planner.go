package llm

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/pkg/logger"
)

const (
	defaultPlanTimeout = 30 * time.Second
	defaultTokenBudget = 6000
	planSchemaName     = "sentellent_plan"
)

// CodeWriter 为兜底通道生成沙箱代码。
type CodeWriter interface {
	WriteCode(ctx context.Context, req CodeRequest) (string, error)
}

// Planner 调用模型生成结构化计划，并在返回前完成校验。
type Planner struct {
	provider  Provider
	counter   *TokenCounter
	timeout   time.Duration
	budget    int
	maxTokens int
	logger    *slog.Logger
}

// Option 定义 Planner 的可选配置。
type Option func(*Planner)

// WithTimeout 设置单次补全的超时。
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTokenBudget 设置提示词的 token 预算。
func WithTokenBudget(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.budget = n
		}
	}
}

// WithMaxTokens 设置模型输出的 token 上限。
func WithMaxTokens(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithTokenCounter 替换计数器。
func WithTokenCounter(c *TokenCounter) Option {
	return func(p *Planner) {
		if c != nil {
			p.counter = c
		}
	}
}

// WithLogger 替换日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlanner 创建 Planner。provider 为空时使用 Disabled。
func NewPlanner(provider Provider, opts ...Option) *Planner {
	if provider == nil {
		provider = Disabled{}
	}
	p := &Planner{
		provider:  provider,
		timeout:   defaultPlanTimeout,
		budget:    defaultTokenBudget,
		maxTokens: DefaultMaxTokens,
		logger:    logger.Named("llm"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.counter == nil {
		p.counter = SharedTokenCounter()
	}
	return p
}

// Enabled 判断是否配置了可用的模型。
func (p *Planner) Enabled() bool { return p != nil && !IsDisabled(p.provider) }

// Provider 返回底层模型名称。
func (p *Planner) Provider() string { return p.provider.Name() }

// Plan 生成并校验计划。模型输出与确定性路由的结果走同一套校验。
func (p *Planner) Plan(ctx context.Context, pc Context) (*action.Plan, error) {
	if strings.TrimSpace(pc.Message) == "" {
		return nil, xerrors.New(action.CodeValidationFailure, "message is empty")
	}
	system := plannerSystem()
	user, dropped := fitBudget(p.counter, system, buildSections(pc), p.budget)
	if dropped > 0 {
		logger.FromContext(ctx).Debug("planner context trimmed", slog.Int("dropped_sections", dropped))
	}

	raw, err := p.complete(ctx, Prompt{
		System:     system,
		User:       user,
		Schema:     action.PlanSchema(),
		SchemaName: planSchemaName,
		MaxTokens:  p.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	plan, err := action.DecodePlan(raw)
	if err != nil {
		p.logger.Warn("planner output rejected",
			slog.String("provider", p.provider.Name()),
			slog.String("error", err.Error()))
		return nil, err
	}
	return plan, nil
}

// WriteCode 实现 CodeWriter 接口。
func (p *Planner) WriteCode(ctx context.Context, req CodeRequest) (string, error) {
	raw, err := p.complete(ctx, Prompt{
		System:    codegenSystemPrompt,
		User:      codegenUser(req),
		MaxTokens: p.maxTokens * 2,
	})
	if err != nil {
		return "", err
	}
	code := ExtractCode(raw)
	if code == "" {
		return "", EmptyCompletion(p.provider.Name())
	}
	return code, nil
}

func (p *Planner) complete(ctx context.Context, prompt Prompt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	raw, err := p.provider.Complete(callCtx, prompt)
	elapsed := time.Since(started)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "language model did not answer in time",
				xerrors.WithMetadata("provider", p.provider.Name()))
		}
		return "", ProviderError(p.provider.Name(), err)
	}
	p.logger.Debug("completion finished",
		slog.String("provider", p.provider.Name()),
		slog.Duration("elapsed", elapsed),
		slog.Int("chars", len(raw)))
	if strings.TrimSpace(raw) == "" {
		return "", EmptyCompletion(p.provider.Name())
	}
	return raw, nil
}
