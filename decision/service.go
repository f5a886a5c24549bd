// Package decision exposes the approval gate and the mediation loop to
// external decision surfaces over Connect RPC, and provides a terminal
// surface for interactive use.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code:
//
//	Decide      {id, decision}                    -> {id, decision}
//	ListPending {}                                -> {requests: [...]}
//	Converse    {session_id, requester, prompt}   -> {session_id, response, rounds, capped, suspensions, notice}
//	Abort       {session_id}                      -> {aborted}
//	ListTrust   {requester}                       -> {records: [...]}
//	RevokeTrust {requester, tool}                 -> {revoked}
package decision

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/kernel"
	"github.com/tailored-agentic-units/warden/observability"
	"github.com/tailored-agentic-units/warden/session"
	"github.com/tailored-agentic-units/warden/trust"
)

const ServiceName = "warden.decision.v1.DecisionService"

const (
	DecideProcedure      = "/" + ServiceName + "/Decide"
	ListPendingProcedure = "/" + ServiceName + "/ListPending"
	ConverseProcedure    = "/" + ServiceName + "/Converse"
	AbortProcedure       = "/" + ServiceName + "/Abort"
	ListTrustProcedure   = "/" + ServiceName + "/ListTrust"
	RevokeTrustProcedure = "/" + ServiceName + "/RevokeTrust"
)

// Mediator is the engine behind the service. *kernel.Kernel implements it.
type Mediator interface {
	Gate() *approval.Gate
	Trust() trust.Store
	Sessions() *session.Registry
	Run(ctx context.Context, sess session.Session, prompt string) (*kernel.Result, error)
	Abort(ctx context.Context, sessionID string) bool
}

type service struct {
	mediator Mediator
	observer observability.Observer
}

// NewHandler returns the service path prefix and its handler, ready to mount
// on an http.ServeMux.
func NewHandler(m Mediator, observer observability.Observer, opts ...connect.HandlerOption) (string, http.Handler) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	s := &service{mediator: m, observer: observer}

	mux := http.NewServeMux()
	mux.Handle(DecideProcedure, connect.NewUnaryHandler(DecideProcedure, s.decide, opts...))
	mux.Handle(ListPendingProcedure, connect.NewUnaryHandler(ListPendingProcedure, s.listPending, opts...))
	mux.Handle(ConverseProcedure, connect.NewUnaryHandler(ConverseProcedure, s.converse, opts...))
	mux.Handle(AbortProcedure, connect.NewUnaryHandler(AbortProcedure, s.abort, opts...))
	mux.Handle(ListTrustProcedure, connect.NewUnaryHandler(ListTrustProcedure, s.listTrust, opts...))
	mux.Handle(RevokeTrustProcedure, connect.NewUnaryHandler(RevokeTrustProcedure, s.revokeTrust, opts...))
	return "/" + ServiceName + "/", mux
}

func (s *service) decide(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id := field(req.Msg, "id")
	decision, err := approval.ParseDecision(field(req.Msg, "decision"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.mediator.Gate().Decide(ctx, id, decision); err != nil {
		return nil, connect.NewError(codeOf(err), err)
	}

	observability.Emit(ctx, s.observer, EventDecision, observability.LevelInfo, "decision.Decide",
		map[string]any{"id": id, "decision": string(decision)})
	return reply(map[string]any{"id": id, "decision": string(decision)})
}

func (s *service) listPending(ctx context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	pending := s.mediator.Gate().Pending()
	requests := make([]any, 0, len(pending))
	for _, r := range pending {
		requests = append(requests, map[string]any{
			"id":         r.ID,
			"session_id": r.SessionID,
			"requester":  r.Requester,
			"tool":       r.Tool,
			"preview":    r.Preview,
			"created_at": r.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expires_at": r.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return reply(map[string]any{"requests": requests})
}

func (s *service) converse(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	prompt := field(req.Msg, "prompt")
	if prompt == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("prompt is required"))
	}

	sess, _, err := s.mediator.Sessions().Open(field(req.Msg, "session_id"), field(req.Msg, "requester"))
	if err != nil {
		return nil, connect.NewError(codeOf(err), err)
	}
	if m := field(req.Msg, "model"); m != "" {
		sess.SetModel(m)
	}

	result, err := s.mediator.Run(ctx, sess, prompt)
	notice := ""
	switch {
	case err == nil:
	case errors.Is(err, kernel.ErrRoundLimitExceeded), errors.Is(err, kernel.ErrOutputBudgetExceeded):
		notice = err.Error()
	default:
		return nil, connect.NewError(codeOf(err), err)
	}

	return reply(map[string]any{
		"session_id":  sess.ID(),
		"response":    result.Response,
		"rounds":      float64(result.Rounds),
		"capped":      result.Capped,
		"suspensions": float64(result.Suspensions),
		"notice":      notice,
	})
}

func (s *service) abort(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id := field(req.Msg, "session_id")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	return reply(map[string]any{"aborted": s.mediator.Abort(ctx, id)})
}

func (s *service) listTrust(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	records, err := s.mediator.Trust().List(ctx, field(req.Msg, "requester"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	out := make([]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"requester":  rec.Requester,
			"tool":       rec.Tool,
			"granted_at": rec.GrantedAt.UTC().Format(time.RFC3339Nano),
			"granted_by": rec.GrantedBy,
			"shape":      rec.Shape,
		})
	}
	return reply(map[string]any{"records": out})
}

// revokeTrust is the only path that removes a trust record while the
// server runs; writing the store from another process would leave the
// server's cache stale.
func (s *service) revokeTrust(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	requester, tool := field(req.Msg, "requester"), field(req.Msg, "tool")
	if requester == "" || tool == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("requester and tool are required"))
	}

	_, found, err := s.mediator.Trust().Lookup(ctx, requester, tool)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if found {
		if err := s.mediator.Trust().Revoke(ctx, requester, tool); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		observability.Emit(ctx, s.observer, EventTrustRevoked, observability.LevelInfo, "decision.RevokeTrust",
			map[string]any{"requester": requester, "tool": tool})
	}
	return reply(map[string]any{"revoked": found})
}

func field(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func reply(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// codeOf maps engine sentinels to Connect codes.
func codeOf(err error) connect.Code {
	switch {
	case errors.Is(err, approval.ErrUnknownRequest):
		return connect.CodeNotFound
	case errors.Is(err, approval.ErrAlreadyResolved), errors.Is(err, kernel.ErrSessionBusy):
		return connect.CodeFailedPrecondition
	case errors.Is(err, approval.ErrInvalidDecision):
		return connect.CodeInvalidArgument
	case errors.Is(err, session.ErrRequesterMismatch):
		return connect.CodePermissionDenied
	case errors.Is(err, kernel.ErrAborted), errors.Is(err, context.Canceled):
		return connect.CodeAborted
	case errors.Is(err, kernel.ErrModelUnavailable):
		return connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	default:
		return connect.CodeInternal
	}
}
