package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/events"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/internal/state"
)

// turn 是一轮对话的上下文。snapshot 是开始时的待处理状态，用于回滚。
// replacing 非空时，本轮暂存的第一个写操作原子替换它。
type turn struct {
	id        string
	userID    string
	sess      *state.Session
	snapshot  state.Snapshot
	loc       *time.Location
	replacing *state.PendingAction
}

// runMessage 执行 Planner→Executor→Checker 循环。
func (s *Service) runMessage(ctx context.Context, t *turn, text string) (turnResult, error) {
	out, err := s.planner.Plan(ctx, t.sess, text)
	if fatal(err) {
		return turnResult{}, err
	}
	if err == nil {
		switch out.Kind {
		case OutcomeConfirmationRequired:
			return turnResult{
				status: StatusAwaitingConfirmation,
				reply:  joinReplies("You still have an action waiting:", describeAction(out.Pending, t.loc)),
			}, nil
		case OutcomeQuestion:
			return turnResult{status: StatusClarification, reply: out.Question}, nil
		case OutcomeAnswer:
			return turnResult{status: StatusAnswered, reply: out.Reply}, nil
		}
	}

	var history []Cycle
	for {
		var cycle Cycle
		switch {
		case err != nil:
			cycle = Cycle{Err: err}
		case out.Kind == OutcomeAnswer:
			cycle = Cycle{Plan: out.Plan, Reply: out.Reply}
		default:
			cycle, err = s.executeCycle(ctx, t, out.Plan)
			if err != nil {
				return turnResult{cycles: len(history) + 1}, err
			}
		}
		history = append(history, cycle)

		check := s.checker.Check(history, len(history))
		metrics.ObserveVerdict(check.Verdict.String())
		logFrom(ctx).Debug("checker verdict",
			slog.Int("cycle", len(history)),
			slog.String("verdict", check.Verdict.String()),
			slog.String("reason", check.Reason))

		switch check.Verdict {
		case TerminateSuccess:
			return s.succeeded(t, history), nil
		case TerminateError:
			if fatal(check.Err) {
				return turnResult{cycles: len(history)}, check.Err
			}
			return failed(t, history, check), nil
		case RouteFallback:
			return s.routeFallback(ctx, t, text, history, check)
		}

		// 取消只在两次循环之间检查。
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.abandon(ctx, t, history, ctxErr)
		}
		out, err = s.planner.Replan(ctx, t.sess, text, history, feedbackFor(cycle))
		if fatal(err) {
			return turnResult{cycles: len(history)}, err
		}
	}
}

// executeCycle 执行计划中的读操作并暂存第一个写操作。
func (s *Service) executeCycle(ctx context.Context, t *turn, plan *action.Plan) (Cycle, error) {
	cycle := Cycle{Plan: plan}
	if plan == nil {
		return cycle, nil
	}
	cycle.Reply = plan.Reply
	var reads []action.ToolCall
	var writes []action.Payload
	for _, call := range plan.Calls {
		if p, ok := call.Payload(); ok {
			writes = append(writes, p)
			continue
		}
		reads = append(reads, call)
	}
	if len(reads) > 0 {
		cycle.Results = s.executor.Execute(ctx, t.userID, reads)
	}
	if len(writes) == 0 {
		return cycle, nil
	}

	pending, err := s.stage(context.WithoutCancel(ctx), t, writes[0])
	switch {
	case err == nil:
		cycle.Staged = pending
	case fatal(err):
		return cycle, err
	default:
		cycle.Results = append(cycle.Results, action.Failed(writes[0].Tool(), err))
	}
	for _, extra := range writes[1:] {
		cycle.Results = append(cycle.Results, action.Failed(extra.Tool(), xerrors.New(action.CodeValidationFailure,
			"only one action can wait for confirmation at a time; ask again once this one is settled")))
	}
	return cycle, nil
}

func (s *Service) stage(ctx context.Context, t *turn, payload action.Payload) (*state.PendingAction, error) {
	if t.replacing == nil {
		return s.gate.Stage(ctx, t.userID, t.id, payload)
	}
	pending, err := s.gate.Replace(ctx, t.userID, t.id, t.replacing, payload)
	if err == nil {
		t.replacing = nil
	}
	return pending, err
}

func feedbackFor(c Cycle) string {
	if c.Err != nil {
		return "The previous plan was rejected: " + xerrors.MessageOf(c.Err)
	}
	for _, r := range c.Results {
		if !r.OK && r.Error != nil {
			return "A tool call failed (" + string(r.Error.Class) + "): " + r.Error.Message
		}
	}
	if c.Plan.Empty() {
		return "The previous plan was empty. Either call a tool or answer the user."
	}
	return ""
}

func (s *Service) succeeded(t *turn, history []Cycle) turnResult {
	last := history[len(history)-1]
	res := turnResult{cycles: len(history), results: last.Results, status: StatusAnswered}
	body := formatResults(last.Results, t.loc)
	if last.Staged != nil {
		res.status = StatusAwaitingConfirmation
		readsOnly := make([]action.ToolResult, 0, len(last.Results))
		for _, r := range last.Results {
			if r.OK {
				readsOnly = append(readsOnly, r)
			}
		}
		body = joinReplies(formatResults(readsOnly, t.loc), describeAction(last.Staged, t.loc))
	}
	res.reply = joinReplies(last.Reply, body)
	return res
}

func failed(t *turn, history []Cycle, check Check) turnResult {
	last := history[len(history)-1]
	res := turnResult{cycles: len(history), results: last.Results, status: StatusFailed, err: check.Err}
	if last.Err != nil {
		res.err = last.Err
		res.reply = "I couldn't work out how to do that: " + xerrors.MessageOf(last.Err)
		return res
	}
	for _, r := range last.Results {
		if !r.OK && r.Error != nil && res.err == nil {
			res.err = xerrors.New(codeForClass(r.Error.Class), r.Error.Message)
		}
	}
	res.reply = joinReplies(last.Reply, formatResults(last.Results, t.loc))
	return res
}

func codeForClass(c action.ErrorClass) xerrors.Code {
	switch c {
	case action.ClassNotConnected:
		return action.CodeNotConnected
	case action.ClassDuplicateRisk:
		return action.CodeDuplicateRisk
	case action.ClassValidation:
		return action.CodeValidationFailure
	case action.ClassUnknownTool:
		return action.CodeUnknownTool
	case action.ClassTimeout:
		return xerrors.CodeTimeout
	case action.ClassNotFound:
		return xerrors.CodeNotFound
	}
	return action.CodeToolFailure
}

// routeFallback 进入兜底通道；失败时回滚到本轮开始时的待处理状态。
func (s *Service) routeFallback(ctx context.Context, t *turn, text string, history []Cycle, check Check) (turnResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.abandon(ctx, t, history, ctxErr)
	}
	if s.fallback == nil {
		return s.exhausted(ctx, t, history, xerrors.New(action.CodeFallbackExhausted,
			"I couldn't complete that request. Nothing was changed."))
	}
	res, err := s.fallback.Run(ctx, FallbackInput{
		TurnID:    t.id,
		UserID:    t.userID,
		Goal:      text,
		Memory:    t.sess.Memory,
		Location:  t.loc,
		Reason:    check.Reason,
		Replacing: t.replacing,
	})
	if err != nil {
		if fatal(err) {
			return turnResult{cycles: len(history)}, err
		}
		if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
			return s.abandon(ctx, t, history, err)
		}
		return s.exhausted(ctx, t, history, err)
	}
	out := turnResult{cycles: len(history), status: StatusAnswered, reply: res.Reply, results: res.Results}
	if res.Staged != nil {
		t.replacing = nil
		out.status = StatusAwaitingConfirmation
		out.reply = joinReplies(res.Reply, describeAction(res.Staged, t.loc))
	}
	return out, nil
}

func (s *Service) exhausted(ctx context.Context, t *turn, history []Cycle, err error) (turnResult, error) {
	if rbErr := s.rollback(ctx, t); rbErr != nil {
		return turnResult{cycles: len(history)}, rbErr
	}
	s.publish(ctx, events.TypeFallbackExhausted, t, xerrors.MessageOf(err))
	return turnResult{
		cycles: len(history),
		status: StatusFailed,
		reply:  xerrors.MessageOf(err),
		err:    xerrors.New(action.CodeFallbackExhausted, xerrors.MessageOf(err)),
	}, nil
}

// abandon 处理超时或取消：丢弃本轮进度并恢复快照。
func (s *Service) abandon(ctx context.Context, t *turn, history []Cycle, cause error) (turnResult, error) {
	if rbErr := s.rollback(ctx, t); rbErr != nil {
		return turnResult{cycles: len(history)}, rbErr
	}
	s.publish(ctx, events.TypeTurnRolledBack, t, cause.Error())
	code := xerrors.CodeCancelled
	if stdErrors.Is(cause, context.DeadlineExceeded) {
		code = xerrors.CodeTimeout
	}
	return turnResult{
		cycles: len(history),
		status: StatusFailed,
		reply:  "That took too long, so I stopped. Nothing was changed.",
		err:    xerrors.Wrap(code, cause, "turn stopped before finishing"),
	}, nil
}

func (s *Service) rollback(ctx context.Context, t *turn) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
	defer cancel()
	if err := s.store.Restore(rbCtx, t.userID, t.snapshot); err != nil {
		return state.StorageError(err, "restore pending state")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, t *turn, detail string) {
	ev := events.New(typ, t.userID)
	ev.TurnID = t.id
	ev.Detail = detail
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(pubCtx, ev); err != nil {
		logFrom(ctx).Warn("publish turn event failed", slog.String("type", string(typ)), slog.String("error", err.Error()))
	}
}

// resolve 处理确认或取消，Instruction 在动作处理完后作为新消息继续。
// 取消并附带新指令时，旧动作留在槽位中，直到新指令暂存的写操作原子替换它。
func (s *Service) resolve(ctx context.Context, t *turn, decision Decision, instruction string) (turnResult, error) {
	if decision == DecisionCancel && instruction != "" && t.sess.PendingAction != nil {
		return s.cancelAndContinue(ctx, t, instruction)
	}
	outcome, err := s.gate.Resolve(ctx, t.userID, t.id, decision, t.sess.PendingAction)
	if err != nil {
		if fatal(err) {
			return turnResult{}, err
		}
		return turnResult{status: StatusFailed, reply: xerrors.MessageOf(err), err: err}, nil
	}

	var res turnResult
	switch {
	case decision == DecisionCancel:
		res = turnResult{status: StatusCancelled, reply: "Okay, cancelled. Nothing was changed."}
	case outcome.Result != nil && outcome.Result.OK:
		res = turnResult{status: StatusExecuted, reply: formatResult(*outcome.Result, t.loc), results: []action.ToolResult{*outcome.Result}}
	case outcome.Result == nil:
		res = turnResult{status: StatusFailed, reply: "That action could not be run. Nothing was changed."}
	default:
		r := outcome.Result
		res = turnResult{status: StatusFailed, results: []action.ToolResult{*r}, reply: formatResult(*r, t.loc)}
		if r.Error != nil {
			res.err = xerrors.New(codeForClass(r.Error.Class), r.Error.Message)
		}
	}
	if outcome.Action != nil && outcome.Action.Kind == action.KindPreferenceUpdate && res.status == StatusExecuted {
		if p, ok := outcome.Action.Payload.(action.PreferenceUpdate); ok {
			if t.sess.Memory == nil {
				t.sess.Memory = state.Memory{}
			}
			t.sess.Memory[p.Key] = p.Value
			t.loc = s.planner.Location(t.sess.Memory)
		}
	}

	if instruction == "" {
		return res, nil
	}
	sess, err := s.store.LoadSession(ctx, t.userID)
	if err != nil {
		return turnResult{}, err
	}
	// 已执行的动作不能被回滚恢复。
	t.sess = sess
	t.snapshot = sess.Snapshot()
	next, err := s.runMessage(ctx, t, instruction)
	if err != nil {
		return turnResult{}, err
	}
	next.reply = joinReplies(res.reply, next.reply)
	next.results = append(res.results, next.results...)
	if next.err == nil {
		next.err = res.err
	}
	return next, nil
}

// cancelAndContinue 取消当前动作并执行新指令。新指令暂存写操作时用 ReplaceAction 一步换掉旧动作，
// 否则在结束时清除旧动作。回滚快照中不含旧动作，取消在失败时依然有效。
func (s *Service) cancelAndContinue(ctx context.Context, t *turn, instruction string) (turnResult, error) {
	current := t.sess.PendingAction
	sess := *t.sess
	sess.PendingAction = nil
	t.sess = &sess
	t.snapshot.Action = nil
	t.replacing = current

	next, err := s.runMessage(ctx, t, instruction)
	if err != nil {
		return turnResult{}, err
	}
	if t.replacing != nil {
		if err := s.gate.Discard(context.WithoutCancel(ctx), t.userID, t.id, current); err != nil {
			if fatal(err) {
				return turnResult{}, err
			}
			logFrom(ctx).Warn("discard cancelled action failed", slog.String("error", err.Error()))
		}
		t.replacing = nil
	}
	next.reply = joinReplies("Okay, cancelled the previous action.", next.reply)
	return next, nil
}
