package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/events"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/pkg/logger"
)

// ConflictFinder 查询新日程时段内已有的日程，tools.Registry 实现了它。
type ConflictFinder interface {
	Conflicts(ctx context.Context, userID string, p action.CalendarCreate) ([]action.Conflict, error)
}

// GateOutcome 是一次确认或取消的结果。
type GateOutcome struct {
	Decision Decision
	Action   *state.PendingAction
	Result   *action.ToolResult
}

// Gate 暂存写操作，并只在用户确认后交给 Executor。
type Gate struct {
	store     state.Store
	executor  *Executor
	conflicts ConflictFinder
	events    events.Publisher
	now       func() time.Time
	newID     func() string
}

// NewGate 创建 Gate。
func NewGate(store state.Store, executor *Executor, conflicts ConflictFinder, publisher events.Publisher, now func() time.Time) *Gate {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:     store,
		executor:  executor,
		conflicts: conflicts,
		events:    publisher,
		now:       now,
		newID:     uuid.NewString,
	}
}

// Stage 校验并暂存写操作。槽位已被其他动作占用时返回 state.ErrActionConflict。
func (g *Gate) Stage(ctx context.Context, userID, turnID string, payload action.Payload) (*state.PendingAction, error) {
	pending, err := g.prepare(ctx, userID, payload)
	if err != nil {
		return nil, err
	}
	if err := g.store.StageAction(ctx, userID, pending); err != nil {
		return nil, err
	}
	g.staged(ctx, userID, turnID, pending)
	return pending, nil
}

// Replace 用新的写操作原子替换 current。current 已不在槽位中时返回 state.ErrNoPendingAction。
func (g *Gate) Replace(ctx context.Context, userID, turnID string, current *state.PendingAction, payload action.Payload) (*state.PendingAction, error) {
	if current == nil {
		return g.Stage(ctx, userID, turnID, payload)
	}
	pending, err := g.prepare(ctx, userID, payload)
	if err != nil {
		return nil, err
	}
	if err := g.store.ReplaceAction(ctx, userID, current.ID, pending); err != nil {
		return nil, err
	}
	g.cancelled(ctx, userID, turnID, current)
	g.staged(ctx, userID, turnID, pending)
	return pending, nil
}

// Discard 取消指定动作；动作已不在槽位中时视为已取消。
func (g *Gate) Discard(ctx context.Context, userID, turnID string, current *state.PendingAction) error {
	if current == nil {
		return nil
	}
	if err := g.store.ClearAction(ctx, userID, current.ID); err != nil && !stdErrors.Is(err, state.ErrNoPendingAction) {
		return err
	}
	g.cancelled(ctx, userID, turnID, current)
	return nil
}

func (g *Gate) prepare(ctx context.Context, userID string, payload action.Payload) (*state.PendingAction, error) {
	if create, ok := payload.(action.CalendarCreate); ok && g.conflicts != nil {
		found, err := g.conflicts.Conflicts(ctx, userID, create)
		if err != nil {
			logFrom(ctx).Warn("free/busy lookup failed", slog.String("error", err.Error()))
		} else {
			create.Conflicts = found
			payload = create
		}
	}
	return state.NewPendingAction(g.newID(), payload, g.now())
}

func (g *Gate) staged(ctx context.Context, userID, turnID string, pending *state.PendingAction) {
	metrics.ObserveGateDecision(string(pending.Kind), "staged")
	logger.Audit().Info("action staged",
		slog.String("user_id", userID),
		slog.String("turn_id", turnID),
		slog.String("action_id", pending.ID),
		slog.String("kind", string(pending.Kind)))
	g.publish(ctx, events.TypeActionStaged, userID, turnID, pending, "")
}

func (g *Gate) cancelled(ctx context.Context, userID, turnID string, pending *state.PendingAction) {
	metrics.ObserveGateDecision(string(pending.Kind), "cancelled")
	logger.Audit().Info("action cancelled",
		slog.String("user_id", userID),
		slog.String("turn_id", turnID),
		slog.String("action_id", pending.ID))
	g.publish(ctx, events.TypeActionCancelled, userID, turnID, pending, "")
}

// Resolve 处理用户对待确认动作的答复。seen 是用户看到的动作，非空时必须与槽位中的一致。
// 取消时立即清除；确认时先执行，执行返回后（无论成败）再清除。
func (g *Gate) Resolve(ctx context.Context, userID, turnID string, decision Decision, seen *state.PendingAction) (GateOutcome, error) {
	pending, err := g.store.GetAction(ctx, userID)
	if err != nil {
		return GateOutcome{}, err
	}
	if pending == nil {
		return GateOutcome{}, state.ErrNoPendingAction
	}
	if seen != nil && !seen.SameAs(pending) {
		return GateOutcome{}, xerrors.New(state.CodeActionConflict,
			"The action waiting for confirmation has changed. Review it and answer again.")
	}

	switch decision {
	case DecisionCancel:
		if err := g.store.ClearAction(ctx, userID, pending.ID); err != nil {
			return GateOutcome{}, err
		}
		g.cancelled(ctx, userID, turnID, pending)
		return GateOutcome{Decision: decision, Action: pending}, nil

	case DecisionConfirm:
		metrics.ObserveGateDecision(string(pending.Kind), "confirmed")
		g.publish(ctx, events.TypeActionConfirmed, userID, turnID, pending, "")

		result := g.executor.RunConfirmed(ctx, userID, pending)

		if err := g.store.ClearAction(context.WithoutCancel(ctx), userID, pending.ID); err != nil {
			if !stdErrors.Is(err, state.ErrNoPendingAction) {
				return GateOutcome{Decision: decision, Action: pending, Result: &result}, err
			}
		}
		outcome, evType := "ok", events.TypeActionExecuted
		if !result.OK {
			outcome, evType = string(result.Error.Class), events.TypeActionFailed
		}
		logger.Audit().Info("action executed",
			slog.String("user_id", userID),
			slog.String("turn_id", turnID),
			slog.String("action_id", pending.ID),
			slog.String("kind", string(pending.Kind)),
			slog.String("outcome", outcome))
		g.publish(ctx, evType, userID, turnID, pending, outcome)
		return GateOutcome{Decision: decision, Action: pending, Result: &result}, nil
	}
	return GateOutcome{}, xerrors.New(action.CodeValidationFailure, "decision must be confirm or cancel")
}

func (g *Gate) publish(ctx context.Context, t events.Type, userID, turnID string, pending *state.PendingAction, outcome string) {
	ev := events.New(t, userID)
	ev.TurnID = turnID
	ev.Outcome = outcome
	if pending != nil {
		ev.ActionID = pending.ID
		ev.Kind = string(pending.Kind)
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.events.Publish(pubCtx, ev); err != nil {
		logFrom(ctx).Warn("publish action event failed", slog.String("type", string(t)), slog.String("error", err.Error()))
	}
}
