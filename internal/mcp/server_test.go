package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/rpcwarden/internal/api"
	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
	"github.com/ppiankov/rpcwarden/internal/model"
)

type fakeAPI struct {
	calls    []model.Call
	approved []string
	fail     error
}

func (f *fakeAPI) Calls(_ context.Context, limit int) ([]model.Call, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if limit > 0 && limit < len(f.calls) {
		return f.calls[:limit], nil
	}
	return f.calls, nil
}

func (f *fakeAPI) Call(_ context.Context, id string) (*model.Call, error) {
	for i := range f.calls {
		if f.calls[i].ID == id {
			c := f.calls[i]
			return &c, nil
		}
	}
	return nil, errors.New("management API 404: call not found")
}

func (f *fakeAPI) Approve(ctx context.Context, id string) (*model.Call, error) {
	c, err := f.Call(ctx, id)
	if err != nil {
		return nil, err
	}
	f.approved = append(f.approved, id)
	c.Status = model.StatusCompleted
	return c, nil
}

func (f *fakeAPI) Account(_ context.Context, id string) (*api.Account, error) {
	return &api.Account{ID: id, TrustScore: 100, Tier: "Bronze", Active: true}, nil
}

func (f *fakeAPI) Stats(context.Context) (*api.Stats, error) {
	return &api.Stats{Accounts: 2, Treasury: "10"}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeAPI) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeAPI{calls: []model.Call{
		{ID: "c3", ReceivedAt: now, Request: jsonrpc.Request{Method: "eth_sendTransaction"}, Status: model.StatusPending, Held: true,
			Risk: model.RiskVerdict{Level: model.RiskMedium}},
		{ID: "c2", ReceivedAt: now, Request: jsonrpc.Request{Method: "eth_call"}, Status: model.StatusCompleted},
		{ID: "c1", ReceivedAt: now, Request: jsonrpc.Request{Method: "eth_sendRawTransaction"}, Status: model.StatusRejected},
	}}
	return New(fake, "test"), fake
}

func TestCallsListsSummaries(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.handleCalls(context.Background(), &mcpsdk.CallToolRequest{}, CallsInput{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(out.Calls))
	}
	if out.Calls[0].Status != "held" || out.Calls[0].RiskLevel != "MEDIUM" {
		t.Errorf("unexpected first summary %+v", out.Calls[0])
	}
}

func TestCallsFiltersByStatus(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.handleCalls(context.Background(), &mcpsdk.CallToolRequest{}, CallsInput{Status: "rejected"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Calls) != 1 || out.Calls[0].ID != "c1" {
		t.Fatalf("expected only c1, got %+v", out.Calls)
	}
}

func TestCallsPropagatesAPIError(t *testing.T) {
	s, fake := newTestServer(t)
	fake.fail = errors.New("management API unreachable")

	if _, _, err := s.handleCalls(context.Background(), &mcpsdk.CallToolRequest{}, CallsInput{}); err == nil {
		t.Fatal("expected error when API is down")
	}
}

func TestApproveForwardsToAPI(t *testing.T) {
	s, fake := newTestServer(t)

	result, out, err := s.handleApprove(context.Background(), &mcpsdk.CallToolRequest{}, CallInput{ID: "c3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success result")
	}
	if out.Call.Summary.Status != string(model.StatusCompleted) {
		t.Errorf("expected completed, got %s", out.Call.Summary.Status)
	}
	if len(fake.approved) != 1 || fake.approved[0] != "c3" {
		t.Errorf("expected c3 approved, got %v", fake.approved)
	}
}

func TestCallDetailFlattensRecord(t *testing.T) {
	s, fake := newTestServer(t)
	fake.calls[1].Request.Params = []byte(`[{"to":"0x01"},"latest"]`)
	fake.calls[1].Response = &jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: []byte(`"0x2a"`)}
	fake.calls[1].Reputation = &model.ReputationVerdict{TrustScore: 150, TrustLevel: model.TrustMedium, Warnings: []string{"w"}}
	fake.calls[1].Decision = model.Decision{Outcome: model.OutcomeForward, Rule: "approved"}

	_, out, err := s.handleCall(context.Background(), &mcpsdk.CallToolRequest{}, CallInput{ID: "c2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := out.Call
	if d.Outcome != "forward" || d.Result != `"0x2a"` || d.TrustScore != 150 || len(d.Warnings) != 1 {
		t.Errorf("unexpected detail %+v", d)
	}
	if d.Params != `[{"to":"0x01"},"latest"]` {
		t.Errorf("unexpected params %q", d.Params)
	}
}

func TestRequiredIDs(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.handleCall(ctx, &mcpsdk.CallToolRequest{}, CallInput{}); err == nil {
		t.Error("expected error for empty call id")
	}
	if _, _, err := s.handleApprove(ctx, &mcpsdk.CallToolRequest{}, CallInput{}); err == nil {
		t.Error("expected error for empty approve id")
	}
	if _, _, err := s.handleAccount(ctx, &mcpsdk.CallToolRequest{}, AccountInput{}); err == nil {
		t.Error("expected error for empty account id")
	}
}

func TestAccountAndStats(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, acct, err := s.handleAccount(ctx, &mcpsdk.CallToolRequest{}, AccountInput{ID: "0xaa"})
	if err != nil || acct.Account.ID != "0xaa" {
		t.Fatalf("account lookup: %v %+v", err, acct)
	}
	_, st, err := s.handleStats(ctx, &mcpsdk.CallToolRequest{}, StatsInput{})
	if err != nil || st.Stats.Accounts != 2 {
		t.Fatalf("stats: %v %+v", err, st)
	}
}

func TestToolsRegisteredOverTransport(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := s.mcpServer.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	want := map[string]bool{
		"rpcwarden_calls": true, "rpcwarden_call": true, "rpcwarden_approve": true,
		"rpcwarden_stats": true, "rpcwarden_account": true,
	}
	for _, tool := range tools.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing tools: %v", want)
	}
}
