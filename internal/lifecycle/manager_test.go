package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rpcwarden/internal/audit"
	"github.com/ppiankov/rpcwarden/internal/classifier"
	"github.com/ppiankov/rpcwarden/internal/decision"
	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/model"
	"github.com/ppiankov/rpcwarden/internal/reputation"
)

const sender = "0x00000000000000000000000000000000000000aa"

type forwarderFunc func(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error)

func (f forwarderFunc) Forward(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	return f(ctx, req)
}

// echoUpstream answers every request with result "0x1" and counts calls.
func echoUpstream(calls *atomic.Int32) Forwarder {
	return forwarderFunc(func(_ context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
		calls.Add(1)
		return jsonrpc.NewResult(req.ID, json.RawMessage(`"0x1"`)), nil
	})
}

func verdictCompleter(level, proceed string, calls *atomic.Int32) classifier.Completer {
	return classifier.CompleterFunc(func(context.Context, classifier.Prompt) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return "RISK_LEVEL: " + level + "\nSHOULD_PROCEED: " + proceed + "\nREASONING: test verdict", nil
	})
}

type harness struct {
	mgr      *Manager
	engine   *ledger.Engine
	upstream atomic.Int32
}

func newHarness(t *testing.T, completer classifier.Completer, cfg Config, fwd Forwarder) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{}
	engine, err := ledger.NewEngine(context.Background(), nil)
	require.NoError(t, err)
	h.engine = engine

	if fwd == nil {
		fwd = echoUpstream(&h.upstream)
	}
	mgr, err := New(cfg, Deps{
		Classifier: classifier.New(completer, classifier.Config{Timeout: 50 * time.Millisecond}, log),
		Reputation: reputation.New(engine, reputation.Config{}, log),
		Ledger:     engine,
		Forwarder:  fwd,
		Log:        log,
	})
	require.NoError(t, err)
	h.mgr = mgr
	return h
}

func request(t *testing.T, id any, method string, params ...any) jsonrpc.Request {
	t.Helper()
	rawID, err := json.Marshal(id)
	require.NoError(t, err)
	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: method, ID: rawID}
	if len(params) > 0 {
		req.Params, err = json.Marshal(params)
		require.NoError(t, err)
	}
	return req
}

func sendTx() map[string]string {
	return map[string]string{
		"from":  sender,
		"to":    "0x00000000000000000000000000000000000000bb",
		"value": "0x1",
	}
}

func decodeData(t *testing.T, resp *jsonrpc.Response) map[string]any {
	t.Helper()
	require.NotNil(t, resp.Error)
	raw, err := json.Marshal(resp.Error.Data)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

func TestReadOnlyCallSkipsClassifierAndForwards(t *testing.T) {
	var completions atomic.Int32
	h := newHarness(t, verdictCompleter("HIGH", "false", &completions), Config{}, nil)

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_blockNumber"))

	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"0x1"`, string(resp.Result))
	assert.Equal(t, int32(0), completions.Load())
	assert.Equal(t, int32(1), h.upstream.Load())

	calls := h.mgr.Calls(0)
	require.Len(t, calls, 1)
	assert.Equal(t, model.StatusCompleted, calls[0].Status)
	assert.Equal(t, model.SourceFastPath, calls[0].Risk.Source)
	assert.Nil(t, calls[0].Reputation)
}

func TestClassifierTimeoutOnSendTransactionRejects(t *testing.T) {
	slow := classifier.CompleterFunc(func(ctx context.Context, _ classifier.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, slow, Config{}, nil)
	_, err := h.engine.Register(context.Background(), sender, "alice")
	require.NoError(t, err)

	resp := h.mgr.Process(context.Background(), request(t, 7, "eth_sendTransaction", sendTx()))

	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeRejected, resp.Error.Code)
	assert.JSONEq(t, `7`, string(resp.ID))
	data := decodeData(t, resp)
	assert.Equal(t, "HIGH", data["riskLevel"])

	c, err := h.mgr.Call(data["callId"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, c.Status)
	assert.Equal(t, model.SourceFallback, c.Risk.Source)
	assert.Equal(t, decision.RuleClassifierReject, c.Decision.Rule)
	assert.Equal(t, int32(0), h.upstream.Load())
}

func TestBatchPreservesOrderAndIDs(t *testing.T) {
	h := newHarness(t, nil, Config{}, nil)

	out, err := h.mgr.Handle(context.Background(), []byte(`[
		{"jsonrpc":"2.0","method":"eth_blockNumber","id":1},
		{"jsonrpc":"2.0","method":"eth_chainId","id":"b"}
	]`))
	require.NoError(t, err)

	var resps []jsonrpc.Response
	require.NoError(t, json.Unmarshal(out, &resps))
	require.Len(t, resps, 2)
	assert.JSONEq(t, `1`, string(resps[0].ID))
	assert.JSONEq(t, `"b"`, string(resps[1].ID))
	assert.Nil(t, resps[0].Error)
	assert.Nil(t, resps[1].Error)
}

func TestHandleInvalidElementCostsNothing(t *testing.T) {
	h := newHarness(t, nil, Config{}, nil)

	out, err := h.mgr.Handle(context.Background(), []byte(`[{"jsonrpc":"2.0","id":3},{"jsonrpc":"2.0","method":"eth_chainId","id":4}]`))
	require.NoError(t, err)

	var resps []jsonrpc.Response
	require.NoError(t, json.Unmarshal(out, &resps))
	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, resps[0].Error.Code)
	assert.Len(t, h.mgr.Calls(0), 1)
}

func TestHoldThenApproveOnce(t *testing.T) {
	h := newHarness(t, verdictCompleter("MEDIUM", "false", nil), Config{}, nil)
	_, err := h.engine.Register(context.Background(), sender, "alice")
	require.NoError(t, err)

	resp := h.mgr.Process(context.Background(), request(t, "tx", "eth_sendTransaction", sendTx()))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodePendingApproval, resp.Error.Code)
	data := decodeData(t, resp)
	id := data["approvalHandle"].(string)
	assert.Equal(t, data["callId"], id)

	held, err := h.mgr.Call(id)
	require.NoError(t, err)
	assert.True(t, held.Held)
	assert.Equal(t, model.StatusPending, held.Status)
	assert.Equal(t, 1, h.mgr.Stats().Held)
	assert.Equal(t, int32(0), h.upstream.Load())

	approved, err := h.mgr.Approve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.Response)
	assert.JSONEq(t, `"0x1"`, string(approved.Response.Result))

	_, err = h.mgr.Approve(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, int32(1), h.upstream.Load())
}

func TestConcurrentApproveForwardsOnce(t *testing.T) {
	h := newHarness(t, verdictCompleter("MEDIUM", "false", nil), Config{}, nil)
	_, err := h.engine.Register(context.Background(), sender, "alice")
	require.NoError(t, err)
	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_sendTransaction", sendTx()))
	id := decodeData(t, resp)["callId"].(string)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.mgr.Approve(context.Background(), id); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), h.upstream.Load())
}

func TestApproveRequiresHeldPendingCall(t *testing.T) {
	h := newHarness(t, nil, Config{}, nil)
	h.mgr.Process(context.Background(), request(t, 1, "eth_blockNumber"))
	done := h.mgr.Calls(1)[0]

	_, err := h.mgr.Approve(context.Background(), done.ID)
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = h.mgr.Approve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := newHarness(t, nil, Config{HistorySize: 2}, nil)

	h.mgr.Process(context.Background(), request(t, 1, "eth_blockNumber"))
	first := h.mgr.Calls(1)[0].ID
	h.mgr.Process(context.Background(), request(t, 2, "eth_blockNumber"))
	h.mgr.Process(context.Background(), request(t, 3, "eth_blockNumber"))

	_, err := h.mgr.Call(first)
	assert.ErrorIs(t, err, ErrCallNotFound)

	calls := h.mgr.Calls(10)
	require.Len(t, calls, 2)
	assert.JSONEq(t, `3`, string(calls[0].Request.ID))
	assert.JSONEq(t, `2`, string(calls[1].Request.ID))
}

func TestUpstreamTransportFailure(t *testing.T) {
	fwd := forwarderFunc(func(context.Context, jsonrpc.Request) (*jsonrpc.Response, error) {
		return nil, errors.New("connection refused")
	})
	h := newHarness(t, nil, Config{}, fwd)

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_getBalance", sender, "latest"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, resp.Error.Code)
	data := decodeData(t, resp)
	assert.Contains(t, data["error"], "connection refused")

	c, err := h.mgr.Call(data["callId"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, c.Status)
	assert.Equal(t, 1, h.mgr.Stats().Failed)
}

func TestUpstreamRPCErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jsonrpc.NewError(req.ID, -32000, "execution reverted", nil))
	}))
	defer srv.Close()

	h := newHarness(t, nil, Config{}, NewHTTPForwarder(srv.URL, nil, time.Second))
	resp := h.mgr.Process(context.Background(), request(t, 9, "eth_call", sendTx(), "latest"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, -32000, resp.Error.Code)
	assert.JSONEq(t, `9`, string(resp.ID))
	assert.Equal(t, model.StatusCompleted, h.mgr.Calls(1)[0].Status)
}

func TestForwardTimeoutFailsCall(t *testing.T) {
	fwd := forwarderFunc(func(ctx context.Context, _ jsonrpc.Request) (*jsonrpc.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, nil, Config{ForwardTimeout: 20 * time.Millisecond}, fwd)

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_blockNumber"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, resp.Error.Code)
	assert.Equal(t, model.StatusFailed, h.mgr.Calls(1)[0].Status)
}

func TestClientCancellationDoesNotAbortPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fwd := forwarderFunc(func(fctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
		cancel()
		if err := fctx.Err(); err != nil {
			return nil, err
		}
		return jsonrpc.NewResult(req.ID, json.RawMessage(`true`)), nil
	})
	h := newHarness(t, nil, Config{}, fwd)

	resp := h.mgr.Process(ctx, request(t, 1, "eth_blockNumber"))
	assert.Nil(t, resp.Error)
}

func TestUnregisteredSenderRejected(t *testing.T) {
	h := newHarness(t, verdictCompleter("LOW", "true", nil), Config{}, nil)

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_sendTransaction", sendTx()))

	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeRejected, resp.Error.Code)
	data := decodeData(t, resp)
	assert.Contains(t, data["warnings"], "account not registered")
	c, err := h.mgr.Call(data["callId"].(string))
	require.NoError(t, err)
	assert.Equal(t, decision.RuleReputationReject, c.Decision.Rule)
}

func TestUndecodableRawTransactionRejected(t *testing.T) {
	h := newHarness(t, verdictCompleter("LOW", "true", nil), Config{}, nil)

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_sendRawTransaction", "0xdeadbeef"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeRejected, resp.Error.Code)
	assert.Equal(t, int32(0), h.upstream.Load())
}

// signedRawTx returns a signed transfer and its signer's ledger id.
func signedRawTx(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(42),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw), ledger.NormalizeID(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestUnsignedSenderEarnsNothing(t *testing.T) {
	h := newHarness(t, verdictCompleter("LOW", "true", nil), Config{}, nil)
	ctx := context.Background()
	_, err := h.engine.Register(ctx, sender, "alice")
	require.NoError(t, err)
	_, err = h.engine.FundTreasury(ctx, uint256.NewInt(1e9))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		resp := h.mgr.Process(ctx, request(t, i, "eth_call", sendTx(), "latest"))
		require.Nil(t, resp.Error)
	}
	resp := h.mgr.Process(ctx, request(t, "est", "eth_estimateGas", sendTx()))
	require.Nil(t, resp.Error)
	// A claimed "from" on a state-changing call is not proof of identity.
	resp = h.mgr.Process(ctx, request(t, "tx", "eth_sendTransaction", sendTx()))
	require.Nil(t, resp.Error)

	acct, err := h.engine.Account(sender)
	require.NoError(t, err)
	assert.Equal(t, ledger.InitialTrustScore, acct.TrustScore)
	assert.Equal(t, "Bronze", acct.Tier().Name)
	assert.Zero(t, acct.Counters.Validations)
	assert.True(t, acct.TokenBalance.IsZero())
	tre := h.engine.Treasury()
	assert.Equal(t, "1000000000", tre.Dec())
}

func TestSignedRawTransactionRecordsValidation(t *testing.T) {
	h := newHarness(t, verdictCompleter("LOW", "true", nil), Config{}, nil)
	ctx := context.Background()
	raw, signer := signedRawTx(t)
	_, err := h.engine.Register(ctx, signer, "signer")
	require.NoError(t, err)
	_, err = h.engine.FundTreasury(ctx, uint256.NewInt(1000))
	require.NoError(t, err)

	resp := h.mgr.Process(ctx, request(t, 1, "eth_sendRawTransaction", raw))
	require.Nil(t, resp.Error)

	c := h.mgr.Calls(1)[0]
	assert.Equal(t, model.StatusCompleted, c.Status)
	assert.True(t, c.SenderVerified)

	acct, err := h.engine.Account(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acct.Counters.Validations)
	assert.Equal(t, ledger.InitialTrustScore+2, acct.TrustScore)
	// Completion never pays out of the treasury.
	assert.True(t, acct.TokenBalance.IsZero())
	tre := h.engine.Treasury()
	assert.Equal(t, "1000", tre.Dec())
}

func TestUpstreamErrorEarnsNoValidation(t *testing.T) {
	fwd := forwarderFunc(func(_ context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
		return jsonrpc.NewError(req.ID, -32000, "nonce too low", nil), nil
	})
	h := newHarness(t, verdictCompleter("LOW", "true", nil), Config{}, fwd)
	raw, signer := signedRawTx(t)
	_, err := h.engine.Register(context.Background(), signer, "signer")
	require.NoError(t, err)

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_sendRawTransaction", raw))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32000, resp.Error.Code)
	assert.Equal(t, model.StatusCompleted, h.mgr.Calls(1)[0].Status)

	acct, err := h.engine.Account(signer)
	require.NoError(t, err)
	assert.Zero(t, acct.Counters.Validations)
	assert.Equal(t, ledger.InitialTrustScore, acct.TrustScore)
}

// meetingReputation blocks in Assess until the classifier has also started.
type meetingReputation struct {
	meet func() bool
	met  atomic.Bool
}

func (r *meetingReputation) Assess(context.Context, string, model.CallParams) model.ReputationVerdict {
	r.met.Store(r.meet())
	return model.ReputationVerdict{TrustLevel: model.TrustMedium, TrustScore: 100, Proceed: true, Recommendation: model.RecommendApprove}
}

func (r *meetingReputation) Summary(string) *model.AccountSummary { return nil }

func TestClassifierAndReputationRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	// meet returns true only if the other lookup arrives while this one waits.
	meet := func() bool {
		arrived.Done()
		select {
		case <-both:
			return true
		case <-time.After(time.Second):
			return false
		}
	}

	var classifierMet atomic.Bool
	completer := classifier.CompleterFunc(func(context.Context, classifier.Prompt) (string, error) {
		classifierMet.Store(meet())
		return "RISK_LEVEL: LOW\nSHOULD_PROCEED: true\nREASONING: ok", nil
	})
	rep := &meetingReputation{meet: meet}
	log, _ := test.NewNullLogger()
	var upstream atomic.Int32
	mgr, err := New(Config{}, Deps{
		Classifier: classifier.New(completer, classifier.Config{Timeout: 5 * time.Second}, log),
		Reputation: rep,
		Forwarder:  echoUpstream(&upstream),
		Log:        log,
	})
	require.NoError(t, err)

	start := time.Now()
	resp := mgr.Process(context.Background(), request(t, 1, "eth_sendTransaction", sendTx()))
	elapsed := time.Since(start)

	require.Nil(t, resp.Error)
	assert.True(t, classifierMet.Load(), "classifier did not overlap the reputation lookup")
	assert.True(t, rep.met.Load(), "reputation did not overlap the classifier")
	assert.Less(t, elapsed, time.Second)
}

func TestSetPolicyAppliesToNextCall(t *testing.T) {
	h := newHarness(t, nil, Config{}, nil)
	h.mgr.SetPolicy(decision.Policy{ForceManualReview: true}, "sha256:new")

	resp := h.mgr.Process(context.Background(), request(t, 1, "eth_blockNumber"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodePendingApproval, resp.Error.Code)

	_, hash := h.mgr.Policy()
	assert.Equal(t, "sha256:new", hash)
}

func TestOutcomesAreAudited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.Open(path)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	var upstream atomic.Int32
	mgr, err := New(Config{PolicyHash: "sha256:p"}, Deps{
		Classifier: classifier.New(verdictCompleter("MEDIUM", "false", nil), classifier.Config{}, log),
		Forwarder:  echoUpstream(&upstream),
		Audit:      auditLog,
		Log:        log,
	})
	require.NoError(t, err)

	mgr.Process(context.Background(), request(t, 1, "eth_blockNumber"))
	held := mgr.Process(context.Background(), request(t, 2, "eth_sign", sender, "0x00"))
	_, err = mgr.Approve(context.Background(), decodeData(t, held)["callId"].(string))
	require.NoError(t, err)
	require.NoError(t, auditLog.Close())

	assert.True(t, audit.Verify(path).Valid)
	res, err := audit.Replay(path, audit.ReplayFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Held)
	assert.Equal(t, 1, res.Summary.Approved)
	assert.Equal(t, 2, res.Summary.Forwarded)
	assert.Equal(t, "sha256:p", res.Entries[0].PolicyHash)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Classifier: classifier.New(nil, classifier.Config{}, nil)})
	assert.Error(t, err)
}
