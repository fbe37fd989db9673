package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/events"
	"Sentellent-Agent/internal/llm"
	"Sentellent-Agent/internal/observability/alerting"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/internal/router"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/storage/cache"
	"Sentellent-Agent/internal/tools"
	"Sentellent-Agent/pkg/logger"
)

const defaultTurnTimeout = 60 * time.Second

// Service 是对外暴露的入口：SubmitMessage 与 SubmitConfirmation。
type Service struct {
	store     state.Store
	invoker   tools.Invoker
	planner   *Planner
	executor  *Executor
	gate      *Gate
	checker   Checker
	fallback  *FallbackLane
	responder *Responder
	locker    Locker
	cache     cache.Cache
	events    events.Publisher
	alerter   alerting.Dispatcher

	router          *router.Router
	model           ModelPlanner
	codeWriter      llm.CodeWriter
	conflicts       ConflictFinder
	maxIterations   int
	fallbackRetries int
	fallbackEnabled bool
	turnTimeout     time.Duration
	lockWait        time.Duration
	callTimeout     time.Duration
	sandboxTimeout  time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithModel 配置大模型规划器。
func WithModel(m ModelPlanner) Option {
	return func(s *Service) { s.model = m }
}

// WithCodeWriter 配置兜底通道的代码生成器，未配置时只使用内置模板。
func WithCodeWriter(w llm.CodeWriter) Option {
	return func(s *Service) { s.codeWriter = w }
}

// WithRouter 替换确定性路由器。
func WithRouter(r *router.Router) Option {
	return func(s *Service) {
		if r != nil {
			s.router = r
		}
	}
}

// WithLocker 替换用户锁。
func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithCache 配置幂等缓存。
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithEvents 配置动作事件发布者。
func WithEvents(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithAlerts 配置告警派发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(s *Service) { s.alerter = d }
}

// WithConflictFinder 配置日程冲突查询。
func WithConflictFinder(f ConflictFinder) Option {
	return func(s *Service) { s.conflicts = f }
}

// WithLimits 设置主循环与兜底通道的次数上限。
func WithLimits(maxIterations, fallbackRetries int) Option {
	return func(s *Service) {
		if maxIterations > 0 {
			s.maxIterations = maxIterations
		}
		if fallbackRetries > 0 {
			s.fallbackRetries = fallbackRetries
		}
	}
}

// WithFallback 开关兜底通道。
func WithFallback(enabled bool) Option {
	return func(s *Service) { s.fallbackEnabled = enabled }
}

// WithTimeouts 设置单轮超时与等待用户锁的时间。
func WithTimeouts(turn, lockWait time.Duration) Option {
	return func(s *Service) {
		if turn > 0 {
			s.turnTimeout = turn
		}
		if lockWait >= 0 {
			s.lockWait = lockWait
		}
	}
}

// WithCallTimeout 设置单次工具调用的超时。
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.callTimeout = d }
}

// WithSandboxTimeout 设置沙箱执行的超时。
func WithSandboxTimeout(d time.Duration) Option {
	return func(s *Service) { s.sandboxTimeout = d }
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New 组装 Service。
func New(store state.Store, invoker tools.Invoker, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "state store is required")
	}
	if invoker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "tool invoker is required")
	}
	s := &Service{
		store:           store,
		invoker:         invoker,
		locker:          NewLocalLocker(),
		cache:           cache.NewMemory(0),
		events:          events.Discard{},
		maxIterations:   DefaultMaxIterations,
		fallbackRetries: DefaultFallbackRetries,
		fallbackEnabled: true,
		turnTimeout:     defaultTurnTimeout,
		now:             time.Now,
		logger:          logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.router == nil {
		s.router = router.New(router.WithClock(s.now))
	}
	if s.conflicts == nil {
		if f, ok := invoker.(ConflictFinder); ok {
			s.conflicts = f
		}
	}

	s.planner = NewPlanner(store, s.router, s.model, s.now)
	s.executor = NewExecutor(invoker, s.callTimeout, 0)
	s.gate = NewGate(store, s.executor, s.conflicts, s.events, s.now)
	s.checker = NewChecker(s.maxIterations, s.planner.CanReplan())
	s.responder = NewResponder(store)
	if s.fallbackEnabled {
		writer := llm.CodeWriter(TemplateWriter{})
		if s.codeWriter != nil {
			writer = ChainWriter{Primary: s.codeWriter, Secondary: TemplateWriter{}}
		}
		s.fallback = NewFallbackLane(writer, NewSandbox(s.sandboxTimeout), invoker, s.gate, s.fallbackRetries, s.now)
	}
	return s, nil
}

// Session 返回用户当前会话。
func (s *Service) Session(ctx context.Context, userID string) (*state.Session, error) {
	if userID == "" {
		return nil, xerrors.New(action.CodeValidationFailure, "user_id is required")
	}
	return s.store.LoadSession(ctx, userID)
}

// SubmitMessage 处理一条用户消息。
func (s *Service) SubmitMessage(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.turn(ctx, "message", req.UserID, req.IdempotencyKey, req.Text, func(ctx context.Context, t *turn) (turnResult, error) {
		if t.sess.PendingAction != nil {
			if decision, ok := ParseDecision(req.Text); ok {
				return s.resolve(ctx, t, decision, "")
			}
		}
		return s.runMessage(ctx, t, req.Text)
	})
}

// SubmitConfirmation 处理对待确认动作的答复。
func (s *Service) SubmitConfirmation(ctx context.Context, c Confirmation) (*Response, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	said := strings.TrimSpace(string(c.Decision) + " " + c.Instruction)
	return s.turn(ctx, "confirmation", c.UserID, c.IdempotencyKey, said, func(ctx context.Context, t *turn) (turnResult, error) {
		return s.resolve(ctx, t, c.Decision, c.Instruction)
	})
}

// turn 负责一轮对话的公共部分：幂等重放、加锁、超时、渲染与指标。
func (s *Service) turn(ctx context.Context, entry, userID, idemKey, said string, body func(context.Context, *turn) (turnResult, error)) (*Response, error) {
	key := replayKey(entry, userID, idemKey)
	if resp, ok := s.replay(ctx, userID, key); ok {
		return resp, nil
	}

	release, err := acquireTurn(ctx, s.locker, userID, s.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	if resp, ok := s.replay(ctx, userID, key); ok {
		return resp, nil
	}

	turnID := uuid.NewString()
	ctx = logger.WithContext(ctx, slog.String("turn_id", turnID), slog.String("user_id", userID))
	started := time.Now()

	turnCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	sess, err := s.store.LoadSession(turnCtx, userID)
	if err != nil {
		return nil, s.storageFailure(ctx, userID, turnID, err)
	}
	t := &turn{
		id:       turnID,
		userID:   userID,
		sess:     sess,
		snapshot: sess.Snapshot(),
		loc:      s.planner.Location(sess.Memory),
	}

	res, err := body(turnCtx, t)
	if err != nil {
		metrics.ObserveTurn(entry, "error", res.cycles, time.Since(started))
		if fatal(err) {
			return nil, s.storageFailure(ctx, userID, turnID, err)
		}
		return nil, err
	}
	res.turnID = turnID

	resp, err := s.responder.Render(ctx, userID, res)
	if err != nil {
		return nil, s.storageFailure(ctx, userID, turnID, state.StorageError(err, "render response"))
	}
	metrics.ObserveTurn(entry, string(resp.Status), res.cycles, time.Since(started))
	logger.Audit().Info("turn finished",
		slog.String("entry", entry),
		slog.String("user_id", userID),
		slog.String("turn_id", turnID),
		slog.String("status", string(resp.Status)),
		slog.Int("cycles", res.cycles),
		slog.Duration("elapsed", time.Since(started)))

	s.recordExchange(ctx, userID, said, resp.Reply)
	s.remember(ctx, key, resp)
	return resp, nil
}

// recordExchange 追加对话历史；失败只记录日志，不影响本轮结果。
func (s *Service) recordExchange(ctx context.Context, userID, said, reply string) {
	ex := state.Exchange{User: said, Assistant: reply, At: s.now().UTC()}
	if err := s.store.AppendHistory(context.WithoutCancel(ctx), userID, ex); err != nil {
		logFrom(ctx).Warn("append history failed", slog.String("error", err.Error()))
	}
}

func (s *Service) storageFailure(ctx context.Context, userID, turnID string, err error) error {
	err = state.StorageError(err, "state store unavailable")
	logFrom(ctx).Error("turn aborted", slog.String("error", err.Error()))
	if s.alerter != nil && xerrors.ShouldAlert(err) {
		ev := alerting.FromError(err, "turn")
		ev.UserID = userID
		ev.TurnID = turnID
		if alertErr := s.alerter.Notify(context.WithoutCancel(ctx), ev); alertErr != nil {
			logFrom(ctx).Warn("send alert failed", slog.String("error", alertErr.Error()))
		}
	}
	return err
}

func logFrom(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx)
}
