package agent

import (
	"context"
	"log/slog"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/internal/router"
	"Sentellent-Agent/internal/state"
)

// OutcomeKind 是 Planner 的产出类型。
type OutcomeKind int

const (
	// OutcomePlan 表示得到了可执行的计划。
	OutcomePlan OutcomeKind = iota
	// OutcomeQuestion 表示需要向用户追问。
	OutcomeQuestion
	// OutcomeConfirmationRequired 表示已有待确认动作，拒绝生成新计划。
	OutcomeConfirmationRequired
	// OutcomeAnswer 表示无需执行任何工具，直接回复。
	OutcomeAnswer
)

// PlanOutcome 是 Planner 的结果。
type PlanOutcome struct {
	Kind     OutcomeKind
	Plan     *action.Plan
	Question string
	Reply    string
	Pending  *state.PendingAction
}

// ModelPlanner 是大模型规划接口，llm.Planner 实现了它。
type ModelPlanner interface {
	Plan(ctx context.Context, pc llm.Context) (*action.Plan, error)
}

// Planner 按固定优先级决定本轮做什么：待确认动作、待补全意图、确定性路由、大模型。
type Planner struct {
	store  state.Store
	router *router.Router
	model  ModelPlanner
	now    func() time.Time
}

// NewPlanner 创建 Planner，model 可以为 nil。
func NewPlanner(store state.Store, r *router.Router, model ModelPlanner, now func() time.Time) *Planner {
	if r == nil {
		r = router.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{store: store, router: r, model: model, now: now}
}

// CanReplan 判断是否具备带观察结果重新规划的能力。
func (p *Planner) CanReplan() bool { return p.model != nil }

// Location 返回用户时区。
func (p *Planner) Location(mem state.Memory) *time.Location { return p.router.Location(mem) }

// Plan 是本轮第一次规划。除 PendingIntent 外不产生任何副作用。
func (p *Planner) Plan(ctx context.Context, sess *state.Session, message string) (PlanOutcome, error) {
	if sess.PendingAction != nil {
		return PlanOutcome{Kind: OutcomeConfirmationRequired, Pending: sess.PendingAction}, nil
	}
	storeCtx := context.WithoutCancel(ctx)

	if intent := sess.PendingIntent; intent != nil {
		if isAbandon(message) {
			if err := p.store.ClearIntent(storeCtx, sess.UserID); err != nil {
				return PlanOutcome{}, err
			}
			return PlanOutcome{Kind: OutcomeAnswer, Reply: "Okay, I've dropped that request."}, nil
		}
		out, err := p.router.Resume(intent, message, sess.Memory)
		if err != nil {
			// 无法续接的意图不应卡住会话，清除后按新消息处理。
			logFrom(ctx).Warn("resume pending intent failed", slog.String("kind", string(intent.Kind)), slog.String("error", err.Error()))
			if clearErr := p.store.ClearIntent(storeCtx, sess.UserID); clearErr != nil {
				return PlanOutcome{}, clearErr
			}
		} else {
			switch out.Kind {
			case router.Clarify:
				if err := p.store.SaveIntent(storeCtx, sess.UserID, out.Intent); err != nil {
					return PlanOutcome{}, err
				}
				return PlanOutcome{Kind: OutcomeQuestion, Question: out.Question}, nil
			case router.Planned:
				if err := p.store.ClearIntent(storeCtx, sess.UserID); err != nil {
					return PlanOutcome{}, err
				}
				metrics.ObservePlan(string(action.SourceRouter), true)
				return PlanOutcome{Kind: OutcomePlan, Plan: out.Plan}, nil
			default:
				return PlanOutcome{Kind: OutcomeQuestion, Question: intent.LastQuestion}, nil
			}
		}
	}

	out, err := p.router.Route(message, sess.Memory)
	if err != nil {
		logFrom(ctx).Warn("deterministic routing failed", slog.String("error", err.Error()))
	} else {
		switch out.Kind {
		case router.Planned:
			metrics.ObservePlan(string(action.SourceRouter), true)
			return PlanOutcome{Kind: OutcomePlan, Plan: out.Plan}, nil
		case router.Clarify:
			if err := p.store.SaveIntent(storeCtx, sess.UserID, out.Intent); err != nil {
				return PlanOutcome{}, err
			}
			return PlanOutcome{Kind: OutcomeQuestion, Question: out.Question}, nil
		}
	}

	return p.askModel(ctx, sess, message, nil, "")
}

// Replan 带着前几轮的观察结果再次请求大模型。
func (p *Planner) Replan(ctx context.Context, sess *state.Session, message string, history []Cycle, feedback string) (PlanOutcome, error) {
	return p.askModel(ctx, sess, message, observations(history), feedback)
}

func (p *Planner) askModel(ctx context.Context, sess *state.Session, message string, obs []llm.Observation, feedback string) (PlanOutcome, error) {
	if p.model == nil {
		return PlanOutcome{}, xerrors.New(action.CodePlanningFailure, "no language model is configured")
	}
	pc := llm.Context{
		UserID:       sess.UserID,
		Message:      message,
		Now:          p.now().In(p.router.Location(sess.Memory)),
		Memory:       sess.Memory,
		Observations: obs,
		Feedback:     feedback,
	}
	if sess.PendingIntent != nil {
		pc.PendingQuestion = sess.PendingIntent.LastQuestion
	}
	for _, ex := range sess.History {
		pc.History = append(pc.History, llm.Exchange{User: ex.User, Assistant: ex.Assistant})
	}
	plan, err := p.model.Plan(ctx, pc)
	metrics.ObservePlan(string(action.SourceLLM), err == nil)
	if err != nil {
		return PlanOutcome{}, err
	}
	if plan.Empty() && !plan.NeedsMore {
		return PlanOutcome{Kind: OutcomeAnswer, Plan: plan, Reply: plan.Reply}, nil
	}
	return PlanOutcome{Kind: OutcomePlan, Plan: plan}, nil
}

func observations(history []Cycle) []llm.Observation {
	out := make([]llm.Observation, 0, len(history))
	for _, c := range history {
		if c.Plan == nil || len(c.Plan.Calls) == 0 {
			continue
		}
		out = append(out, llm.Observation{Calls: c.Plan.Calls, Results: c.Results})
	}
	return out
}
