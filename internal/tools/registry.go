package tools

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/pkg/logger"
)

// Invocation 是一次工具调用请求。写操作必须携带已确认动作的 ID。
type Invocation struct {
	UserID   string
	ActionID string
	Call     action.ToolCall
}

// Invoker 是执行器访问外部服务的唯一入口。
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) action.ToolResult
}

// Request 是传给 Handler 的已解析调用。
type Request struct {
	UserID      string
	Credentials *Credentials
	Args        action.Args
}

// Handler 执行具体工具，返回值必须是规范化结构。
type Handler func(ctx context.Context, req Request) (any, error)

// DeliveryLog 记录写操作的投递状态，用于识别重复提交。redis.ResponseCache 与 cache.Memory 均实现它。
type DeliveryLog interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

const (
	deliveryPending = "pending"
	deliverySent    = "sent"
	deliveryFailed  = "failed"
)

type entry struct {
	handler   Handler
	needsCred bool
}

// Registry 将白名单内的工具名映射到处理函数。
type Registry struct {
	mu           sync.RWMutex
	handlers     map[string]entry
	creds        CredentialStore
	deliveries   DeliveryLog
	calendar     CalendarService
	pageSize     int
	showAllLimit int
	now          func() time.Time
	logger       *slog.Logger
}

var _ Invoker = (*Registry)(nil)

// Option 定义 Registry 的可选配置。
type Option func(*Registry)

// WithPageSize 设置默认分页大小与 show_all 上限。
func WithPageSize(pageSize, showAllLimit int) Option {
	return func(r *Registry) {
		if pageSize > 0 {
			r.pageSize = min(pageSize, action.MaxPageSize)
		}
		if showAllLimit > 0 {
			r.showAllLimit = min(showAllLimit, action.MaxPageSize)
		}
	}
}

// WithDeliveryLog 设置写操作投递记录。
func WithDeliveryLog(log DeliveryLog) Option {
	return func(r *Registry) {
		if log != nil {
			r.deliveries = log
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry 创建空的 Registry。
func NewRegistry(creds CredentialStore, opts ...Option) *Registry {
	r := &Registry{
		handlers:     make(map[string]entry),
		creds:        creds,
		pageSize:     action.DefaultPageSize,
		showAllLimit: action.MaxPageSize,
		now:          time.Now,
		logger:       logger.Named("tools"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 注册处理函数。只接受 action 包白名单中的工具名。
func (r *Registry) Register(tool string, needsCredentials bool, h Handler) error {
	if !action.IsKnownTool(tool) {
		return xerrors.New(action.CodeUnknownTool, fmt.Sprintf("tool %q is not in the allowlist", tool))
	}
	if h == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "handler is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[tool]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("tool %q already registered", tool))
	}
	r.handlers[tool] = entry{handler: h, needsCred: needsCredentials}
	return nil
}

// Tools 返回已注册的工具名。
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has 判断工具是否已注册。
func (r *Registry) Has(tool string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[tool]
	return ok
}

// Invoke 实现 Invoker 接口。所有失败都记录在 ToolResult 中，不会向上抛出。
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (result action.ToolResult) {
	tool := inv.Call.Name()
	started := time.Now()
	defer func() {
		class := ""
		if result.Error != nil {
			class = string(result.Error.Class)
		}
		metrics.ObserveToolCall(tool, class, time.Since(started))
	}()

	if err := inv.Call.Validate(); err != nil {
		return action.Failed(tool, err)
	}
	r.mu.RLock()
	e, ok := r.handlers[tool]
	r.mu.RUnlock()
	if !ok {
		return action.Failed(tool, xerrors.New(action.CodeUnknownTool, "Unknown tool: "+tool))
	}

	write := inv.Call.IsWrite()
	if write && strings.TrimSpace(inv.ActionID) == "" {
		return action.Failed(tool, xerrors.New(action.CodeValidationFailure, "write tools run only for a confirmed action"))
	}

	req := Request{UserID: inv.UserID, Args: inv.Call.Args}
	if e.needsCred {
		creds, err := r.resolve(ctx, inv.UserID)
		if err != nil {
			return action.Failed(tool, err)
		}
		req.Credentials = creds
	}

	if write {
		return r.invokeWrite(ctx, inv, e.handler, req)
	}
	data, err := e.handler(ctx, req)
	if err != nil {
		return action.Failed(tool, toolError(tool, err))
	}
	return action.Succeeded(tool, data)
}

func (r *Registry) resolve(ctx context.Context, userID string) (*Credentials, error) {
	if r.creds == nil {
		return nil, notConnected("No account is connected.")
	}
	return r.creds.Resolve(ctx, userID)
}

func deliveryKey(inv Invocation) string {
	return "delivered:" + inv.UserID + ":" + inv.ActionID
}

// invokeWrite 在投递前后记录状态；已投递或结果未知的动作再次执行时报告重复风险。
func (r *Registry) invokeWrite(ctx context.Context, inv Invocation, h Handler, req Request) action.ToolResult {
	tool := inv.Call.Name()
	key := deliveryKey(inv)
	if r.deliveries != nil {
		status, found, err := r.deliveries.Get(ctx, key)
		if err != nil {
			r.logger.Warn("delivery log unavailable", slog.String("tool", tool), slog.String("error", err.Error()))
		} else if found && string(status) != deliveryFailed {
			return action.Failed(tool, xerrors.New(action.CodeDuplicateRisk,
				"This action may already have been carried out, so it was not repeated. Check before trying again.",
				xerrors.WithMetadata("action_id", inv.ActionID)))
		}
		r.mark(ctx, key, deliveryPending)
	}

	data, err := h(ctx, req)
	if err != nil {
		if r.deliveries != nil && !stdErrors.Is(err, context.DeadlineExceeded) {
			r.mark(ctx, key, deliveryFailed)
		}
		return action.Failed(tool, toolError(tool, err))
	}
	if r.deliveries != nil {
		r.mark(ctx, key, deliverySent)
	}
	return action.Succeeded(tool, data)
}

func (r *Registry) mark(ctx context.Context, key, status string) {
	if err := r.deliveries.Put(context.WithoutCancel(ctx), key, []byte(status)); err != nil {
		r.logger.Warn("record delivery failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// toolError 保留已分类的错误，其余包装为 TOOL_FAILURE。
func toolError(tool string, err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, tool+" timed out")
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(action.CodeToolFailure, err, tool+" failed")
}

// pageSizeFor 计算有效分页大小，show_all 关闭截断但受上限约束。
func (r *Registry) pageSizeFor(maxResults int, showAll bool) int {
	if showAll {
		return r.showAllLimit
	}
	if maxResults > 0 {
		return maxResults
	}
	return r.pageSize
}

// Conflicts 查询新日程时间段内已有的日程。
func (r *Registry) Conflicts(ctx context.Context, userID string, p action.CalendarCreate) ([]action.Conflict, error) {
	if r.calendar == nil {
		return nil, nil
	}
	creds, err := r.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.calendar.FreeBusy(ctx, creds, p.Start, p.End)
}
