package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/rpcwarden/internal/api"
	"github.com/ppiankov/rpcwarden/internal/model"
)

const defaultListLimit = 20

// --- Input/Output types ---

// CallsInput defines parameters for the rpcwarden_calls tool.
type CallsInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of calls to return (default 20)"`
	Status string `json:"status,omitempty" jsonschema:"only return calls with this status (pending/completed/rejected/failed/held)"`
}

// CallsOutput lists call summaries.
type CallsOutput struct {
	Calls []CallSummary `json:"calls"`
}

// CallSummary is the one-line view of a call.
type CallSummary struct {
	ID         string `json:"id"`
	ReceivedAt string `json:"received_at"`
	Method     string `json:"method"`
	Sender     string `json:"sender,omitempty"`
	Status     string `json:"status"`
	Held       bool   `json:"held,omitempty"`
	RiskLevel  string `json:"risk_level"`
	Rule       string `json:"rule"`
}

// CallInput identifies one call.
type CallInput struct {
	ID string `json:"id" jsonschema:"call id (also the approval handle of a held call)"`
}

// CallOutput is the full call record.
type CallOutput struct {
	Call CallDetail `json:"call"`
}

// CallDetail flattens a call into schema-friendly fields. Raw JSON travels
// as strings.
type CallDetail struct {
	Summary          CallSummary `json:"summary"`
	Params           string      `json:"params,omitempty"`
	RiskReasoning    string      `json:"risk_reasoning"`
	RiskSource       string      `json:"risk_source"`
	TrustScore       int         `json:"trust_score,omitempty"`
	TrustLevel       string      `json:"trust_level,omitempty"`
	Recommendation   string      `json:"recommendation,omitempty"`
	Warnings         []string    `json:"warnings,omitempty"`
	Outcome          string      `json:"outcome"`
	AutoApproved     bool        `json:"auto_approved,omitempty"`
	Reasoning        string      `json:"reasoning"`
	Result           string      `json:"result,omitempty"`
	ErrorCode        int         `json:"error_code,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	ApprovedAt       string      `json:"approved_at,omitempty"`
}

// StatsInput is empty: no parameters needed.
type StatsInput struct{}

// StatsOutput wraps the management API stats.
type StatsOutput struct {
	Stats *api.Stats `json:"stats"`
}

// AccountInput identifies one account.
type AccountInput struct {
	ID string `json:"id" jsonschema:"account id, usually a 0x address"`
}

// AccountOutput is the account view.
type AccountOutput struct {
	Account AccountView `json:"account"`
}

// AccountView is the subset of an account useful to an agent.
type AccountView struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name,omitempty"`
	Active            bool   `json:"active"`
	TrustScore        int    `json:"trust_score"`
	TrustLevel        string `json:"trust_level"`
	Tier              string `json:"tier"`
	ReportsReceived   uint64 `json:"reports_received"`
	TokenBalance      string `json:"token_balance"`
	TotalTokensEarned string `json:"total_tokens_earned"`
	InteractionCount  uint64 `json:"interaction_count"`
}

// --- Handlers ---

func (s *Server) handleCalls(ctx context.Context, req *mcpsdk.CallToolRequest, input CallsInput) (*mcpsdk.CallToolResult, CallsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	// Filtering happens client-side, so fetch the whole history.
	fetch := limit
	if input.Status != "" {
		fetch = 0
	}
	calls, err := s.api.Calls(ctx, fetch)
	if err != nil {
		return nil, CallsOutput{}, err
	}

	out := CallsOutput{Calls: []CallSummary{}}
	for _, c := range calls {
		sum := summarize(c)
		if input.Status != "" && sum.Status != input.Status {
			continue
		}
		out.Calls = append(out.Calls, sum)
		if len(out.Calls) == limit {
			break
		}
	}
	return nil, out, nil
}

func (s *Server) handleCall(ctx context.Context, req *mcpsdk.CallToolRequest, input CallInput) (*mcpsdk.CallToolResult, CallOutput, error) {
	if input.ID == "" {
		return nil, CallOutput{}, fmt.Errorf("id is required")
	}
	c, err := s.api.Call(ctx, input.ID)
	if err != nil {
		return nil, CallOutput{}, err
	}
	return nil, CallOutput{Call: detail(c)}, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input CallInput) (*mcpsdk.CallToolResult, CallOutput, error) {
	if input.ID == "" {
		return nil, CallOutput{}, fmt.Errorf("id is required")
	}
	c, err := s.api.Approve(ctx, input.ID)
	if err != nil {
		return nil, CallOutput{}, err
	}
	out := CallOutput{Call: detail(c)}
	if c.Status == model.StatusFailed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleStats(ctx context.Context, req *mcpsdk.CallToolRequest, input StatsInput) (*mcpsdk.CallToolResult, StatsOutput, error) {
	st, err := s.api.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, StatsOutput{Stats: st}, nil
}

func (s *Server) handleAccount(ctx context.Context, req *mcpsdk.CallToolRequest, input AccountInput) (*mcpsdk.CallToolResult, AccountOutput, error) {
	if input.ID == "" {
		return nil, AccountOutput{}, fmt.Errorf("id is required")
	}
	acct, err := s.api.Account(ctx, input.ID)
	if err != nil {
		return nil, AccountOutput{}, err
	}
	return nil, AccountOutput{Account: AccountView{
		ID:                acct.ID,
		DisplayName:       acct.DisplayName,
		Active:            acct.Active,
		TrustScore:        acct.TrustScore,
		TrustLevel:        string(acct.TrustLevel),
		Tier:              acct.Tier,
		ReportsReceived:   acct.Counters.ReportsReceived,
		TokenBalance:      acct.TokenBalance,
		TotalTokensEarned: acct.TotalTokensEarned,
		InteractionCount:  acct.InteractionCount,
	}}, nil
}

func summarize(c model.Call) CallSummary {
	status := string(c.Status)
	if c.Held && c.Status == model.StatusPending {
		status = "held"
	}
	return CallSummary{
		ID:         c.ID,
		ReceivedAt: c.ReceivedAt.UTC().Format(time.RFC3339),
		Method:     c.Request.Method,
		Sender:     c.Sender,
		Status:     status,
		Held:       c.Held,
		RiskLevel:  string(c.Risk.Level),
		Rule:       c.Decision.Rule,
	}
}

func detail(c *model.Call) CallDetail {
	d := CallDetail{
		Summary:          summarize(*c),
		Params:           string(c.Request.Params),
		RiskReasoning:    c.Risk.Reasoning,
		RiskSource:       string(c.Risk.Source),
		Outcome:          c.Decision.Outcome.String(),
		AutoApproved:     c.Decision.AutoApproved,
		Reasoning:        c.Decision.Reasoning,
		ErrorMessage:     c.Error,
		ProcessingTimeMs: c.ProcessingTimeMs,
	}
	if rep := c.Reputation; rep != nil {
		d.TrustScore = rep.TrustScore
		d.TrustLevel = string(rep.TrustLevel)
		d.Recommendation = string(rep.Recommendation)
		d.Warnings = rep.Warnings
	}
	if resp := c.Response; resp != nil {
		d.Result = string(resp.Result)
		if resp.Error != nil {
			d.ErrorCode = resp.Error.Code
			d.ErrorMessage = resp.Error.Message
		}
	}
	if c.ApprovedAt != nil {
		d.ApprovedAt = c.ApprovedAt.UTC().Format(time.RFC3339)
	}
	return d
}
