package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/audit"
	"github.com/tailored-agentic-units/warden/boundary"
	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/model"
	"github.com/tailored-agentic-units/warden/observability"
	"github.com/tailored-agentic-units/warden/session"
	"github.com/tailored-agentic-units/warden/tools"
)

// Notices appended to a capped answer.
const (
	NoticeRoundLimit   = "[round limit reached]"
	NoticeOutputBudget = "[output budget exhausted]"
)

// Run executes the mediation loop for one inbound prompt on sess: sanitize,
// infer, dispatch each requested tool call serially through the gate and
// the sandbox or in-process handler, feed sanitized results back, and
// repeat until the model answers or a ceiling is reached.
//
// A capped run returns its partial answer together with
// ErrRoundLimitExceeded or ErrOutputBudgetExceeded. Model failures that
// survive retry return ErrModelUnavailable. Abort returns ErrAborted. Tool
// failures never surface here; they are fed back to the model.
func (k *Kernel) Run(ctx context.Context, sess session.Session, prompt string) (*Result, error) {
	result := &Result{SessionID: sess.ID()}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if !k.begin(sess.ID(), cancel) {
		return result, ErrSessionBusy
	}
	defer k.end(sess.ID())

	sess.ResetRounds()
	sess.AddMessage(protocol.NewMessage(protocol.RoleUser,
		k.boundary.Sanitize(ctx, prompt, boundary.PassInbound)))

	systemContent, err := k.buildSystemContent(ctx, sess.Requester())
	if err != nil {
		observability.Emit(ctx, k.observer, EventError, observability.LevelWarning, "kernel.Run",
			map[string]any{"session": sess.ID(), "error": err.Error()})
	}

	defs := k.registry.List()
	observability.Emit(ctx, k.observer, EventRunStart, observability.LevelInfo, "kernel.Run",
		map[string]any{
			"session":       sess.ID(),
			"requester":     sess.Requester(),
			"prompt_length": len(prompt),
			"max_rounds":    k.maxRounds,
			"tools":         len(defs),
		})

	modelName := sess.Model()
	if modelName == "" {
		modelName = k.defaultModel
	}

	var partial string
	used := 0

	for {
		if ctx.Err() != nil {
			return result, k.stopped(ctx, sess)
		}

		round := sess.Round() + 1
		observability.Emit(ctx, k.observer, EventRoundStart, observability.LevelVerbose, "kernel.Run",
			map[string]any{"session": sess.ID(), "round": round})

		resp, err := k.model.Infer(ctx, model.Request{
			Model:    modelName,
			Messages: k.buildMessages(systemContent, sess),
			Tools:    defs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, k.stopped(ctx, sess)
			}
			observability.Emit(ctx, k.observer, EventError, observability.LevelError, "kernel.Run",
				map[string]any{"session": sess.ID(), "round": round, "error": err.Error()})
			return result, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}

		if resp.Text != "" {
			partial = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			text := k.boundary.Sanitize(ctx, resp.Text, boundary.PassOutbound)
			sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, text))
			result.Response = text

			observability.Emit(ctx, k.observer, EventResponse, observability.LevelInfo, "kernel.Run",
				map[string]any{
					"session":         sess.ID(),
					"rounds":          result.Rounds,
					"response_length": len(text),
					"suspensions":     result.Suspensions,
				})
			return result, nil
		}

		sess.AddMessage(protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   k.boundary.Sanitize(ctx, resp.Text, boundary.PassOutbound),
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			record := ToolCallRecord{ToolCall: tc, Round: round}

			switch {
			case ctx.Err() != nil:
				record.Result = protocol.Failure(protocol.KindDispatchFailed, "run cancelled: "+context.Cause(ctx).Error())
			case used >= k.outputBudget:
				record.Result = protocol.Failure(protocol.KindBudgetExhausted, "output budget exhausted; call not dispatched")
			default:
				observability.Emit(ctx, k.observer, EventToolCall, observability.LevelVerbose, "kernel.Run",
					map[string]any{"session": sess.ID(), "round": round, "name": tc.Name, "id": tc.ID})

				var suspended bool
				record.Result, record.Approval, suspended = k.dispatch(ctx, sess, tc)
				if suspended {
					result.Suspensions++
				}
			}

			record.Content = k.feedback(ctx, &record.Result, &used)

			sess.AddMessage(protocol.NewToolMessage(tc.ID, record.Content))
			k.appendAudit(ctx, audit.Event{
				Kind:          audit.KindDispatch,
				SessionID:     sess.ID(),
				Requester:     sess.Requester(),
				Tool:          tc.Name,
				CorrelationID: tc.ID,
				Outcome:       outcome(record.Result),
				Detail:        k.boundary.Redactor().Redact(record.Result.Error),
				Elapsed:       record.Result.Elapsed,
			})

			observability.Emit(ctx, k.observer, EventToolComplete, observability.LevelVerbose, "kernel.Run",
				map[string]any{
					"session":   sess.ID(),
					"round":     round,
					"name":      tc.Name,
					"outcome":   outcome(record.Result),
					"truncated": record.Result.Truncated,
				})

			result.ToolCalls = append(result.ToolCalls, record)
		}

		result.Rounds = sess.NextRound()

		if ctx.Err() != nil {
			return result, k.stopped(ctx, sess)
		}
		if used >= k.outputBudget {
			return result, k.capped(ctx, sess, result, partial, NoticeOutputBudget, ErrOutputBudgetExceeded)
		}
		if result.Rounds >= k.maxRounds {
			return result, k.capped(ctx, sess, result, partial, NoticeRoundLimit, ErrRoundLimitExceeded)
		}
	}
}

// dispatch resolves one model tool call: registry lookup, argument
// validation, approval when gated, then sandboxed or in-process execution.
func (k *Kernel) dispatch(ctx context.Context, sess session.Session, tc protocol.ToolCall) (protocol.ExecutionResult, approval.Decision, bool) {
	call, err := k.registry.NewCall(tc, sess.ID(), sess.Requester())
	if err != nil {
		return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%v: %v", ErrToolDispatchFailed, err)), "", false
	}

	if err := k.registry.Validate(call.Name, call.Args); err != nil {
		return protocol.Failure(protocol.KindInvalidArguments, err.Error()), "", false
	}

	var decision approval.Decision
	var suspended bool
	if call.RequiresApproval {
		res, err := k.gate.RequestApproval(ctx, call)
		if err != nil {
			return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%v: %v", ErrToolDispatchFailed, err)), "", false
		}
		decision, suspended = res.Decision, res.Suspended
		if !decision.Allows() {
			detail := string(decision)
			if err := res.Err(); err != nil {
				detail = err.Error()
			}
			if res.Detail != "" {
				detail += ": " + res.Detail
			}
			return protocol.Refusal(detail), decision, suspended
		}
	}

	if call.RequiresIsolation {
		return k.execute(ctx, call), decision, suspended
	}

	start := time.Now()
	out, err := k.registry.Invoke(tools.WithCall(ctx, call), call.Name, call.Args)

	var res protocol.ExecutionResult
	switch {
	case err != nil:
		res = protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%v: %v", ErrToolDispatchFailed, err))
	case out.IsError:
		res = protocol.Failure(protocol.KindDispatchFailed, out.Content)
	default:
		res = protocol.OK(out.Content)
	}
	res.Elapsed = time.Since(start)
	return res, decision, suspended
}

func (k *Kernel) execute(ctx context.Context, call tools.Call) protocol.ExecutionResult {
	def, _ := k.registry.Lookup(call.Name)
	if k.sandbox == nil || def.Sandbox == nil {
		return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%v: no sandbox executor for %s", ErrToolDispatchFailed, call.Name))
	}

	policy, err := k.sandbox.Resolve(*def.Sandbox)
	if err != nil {
		return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%v: %v", ErrToolDispatchFailed, err))
	}
	return k.sandbox.Execute(ctx, call.Name, call.Args, policy)
}

// feedback renders res as tool-result text: tool-result pass, per-result
// clip, then clip to what remains of the output budget. used is advanced by
// the length of the text.
func (k *Kernel) feedback(ctx context.Context, res *protocol.ExecutionResult, used *int) string {
	text := k.boundary.Sanitize(ctx, res.Content(), boundary.PassToolResult)

	text, clipped := protocol.Clip(text, k.resultLimit)
	if clipped {
		res.Truncated = true
	}

	if remaining := k.outputBudget - *used; remaining > 0 && len(text) > remaining {
		text, _ = protocol.Clip(text, remaining)
		res.Truncated = true
	}

	*used += len(text)
	return text
}

func (k *Kernel) capped(ctx context.Context, sess session.Session, result *Result, partial, notice string, cause error) error {
	text := notice
	if partial != "" {
		text = k.boundary.Sanitize(ctx, partial, boundary.PassOutbound) + "\n\n" + notice
	}

	sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, text))
	result.Response = text
	result.Capped = true

	observability.Emit(ctx, k.observer, EventCapped, observability.LevelWarning, "kernel.Run",
		map[string]any{
			"session":     sess.ID(),
			"rounds":      result.Rounds,
			"tool_calls":  len(result.ToolCalls),
			"suspensions": result.Suspensions,
			"error":       cause.Error(),
		})
	return cause
}

func (k *Kernel) stopped(ctx context.Context, sess session.Session) error {
	err := context.Cause(ctx)
	level := observability.LevelWarning
	if errors.Is(err, ErrAborted) {
		level = observability.LevelInfo
	}
	observability.Emit(ctx, k.observer, EventError, level, "kernel.Run",
		map[string]any{"session": sess.ID(), "error": err.Error()})
	return err
}

func outcome(res protocol.ExecutionResult) string {
	if !res.Failed() {
		return string(protocol.StatusOK)
	}
	return string(res.Kind)
}
