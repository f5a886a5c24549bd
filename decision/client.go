package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/trust"
)

// Reply is the outcome of a Converse call.
type Reply struct {
	SessionID   string
	Response    string
	Rounds      int
	Capped      bool
	Suspensions int
	Notice      string
}

// Client calls a remote decision service.
type Client struct {
	decide      *connect.Client[structpb.Struct, structpb.Struct]
	listPending *connect.Client[structpb.Struct, structpb.Struct]
	converse    *connect.Client[structpb.Struct, structpb.Struct]
	abort       *connect.Client[structpb.Struct, structpb.Struct]
	listTrust   *connect.Client[structpb.Struct, structpb.Struct]
	revokeTrust *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient creates a Client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		decide:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+DecideProcedure, opts...),
		listPending: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ListPendingProcedure, opts...),
		converse:    connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ConverseProcedure, opts...),
		abort:       connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+AbortProcedure, opts...),
		listTrust:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ListTrustProcedure, opts...),
		revokeTrust: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+RevokeTrustProcedure, opts...),
	}
}

func call(ctx context.Context, c *connect.Client[structpb.Struct, structpb.Struct], fields map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Decide sends a decision ("approve", "deny", "trust", ...) for request id.
func (c *Client) Decide(ctx context.Context, id, decision string) error {
	_, err := call(ctx, c.decide, map[string]any{"id": id, "decision": decision})
	return err
}

// Pending lists the unresolved approval requests.
func (c *Client) Pending(ctx context.Context) ([]approval.Request, error) {
	msg, err := call(ctx, c.listPending, map[string]any{})
	if err != nil {
		return nil, err
	}

	values := msg.GetFields()["requests"].GetListValue().GetValues()
	reqs := make([]approval.Request, 0, len(values))
	for _, v := range values {
		s := v.GetStructValue()
		created, _ := time.Parse(time.RFC3339Nano, field(s, "created_at"))
		expires, _ := time.Parse(time.RFC3339Nano, field(s, "expires_at"))
		reqs = append(reqs, approval.Request{
			ID:        field(s, "id"),
			SessionID: field(s, "session_id"),
			Requester: field(s, "requester"),
			Tool:      field(s, "tool"),
			Preview:   field(s, "preview"),
			CreatedAt: created,
			ExpiresAt: expires,
		})
	}
	return reqs, nil
}

// Converse runs one prompt on the session. An empty sessionID opens a new
// session; the reply carries its id.
func (c *Client) Converse(ctx context.Context, sessionID, requester, prompt string) (Reply, error) {
	msg, err := call(ctx, c.converse, map[string]any{
		"session_id": sessionID,
		"requester":  requester,
		"prompt":     prompt,
	})
	if err != nil {
		return Reply{}, err
	}

	f := msg.GetFields()
	return Reply{
		SessionID:   f["session_id"].GetStringValue(),
		Response:    f["response"].GetStringValue(),
		Rounds:      int(f["rounds"].GetNumberValue()),
		Capped:      f["capped"].GetBoolValue(),
		Suspensions: int(f["suspensions"].GetNumberValue()),
		Notice:      f["notice"].GetStringValue(),
	}, nil
}

// Abort stops the session's active run and expires its pending approvals.
func (c *Client) Abort(ctx context.Context, sessionID string) (bool, error) {
	msg, err := call(ctx, c.abort, map[string]any{"session_id": sessionID})
	if err != nil {
		return false, err
	}
	return msg.GetFields()["aborted"].GetBoolValue(), nil
}

// ListTrust returns the trust records of requester, or all records when
// requester is empty.
func (c *Client) ListTrust(ctx context.Context, requester string) ([]trust.Record, error) {
	msg, err := call(ctx, c.listTrust, map[string]any{"requester": requester})
	if err != nil {
		return nil, err
	}

	values := msg.GetFields()["records"].GetListValue().GetValues()
	records := make([]trust.Record, 0, len(values))
	for _, v := range values {
		s := v.GetStructValue()
		granted, _ := time.Parse(time.RFC3339Nano, field(s, "granted_at"))
		records = append(records, trust.Record{
			Requester: field(s, "requester"),
			Tool:      field(s, "tool"),
			GrantedAt: granted,
			GrantedBy: field(s, "granted_by"),
			Shape:     field(s, "shape"),
		})
	}
	return records, nil
}

// RevokeTrust removes the trust record for (requester, tool). It reports
// false when no record existed.
func (c *Client) RevokeTrust(ctx context.Context, requester, tool string) (bool, error) {
	msg, err := call(ctx, c.revokeTrust, map[string]any{"requester": requester, "tool": tool})
	if err != nil {
		return false, err
	}
	return msg.GetFields()["revoked"].GetBoolValue(), nil
}
