package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/model"
)

const sender = "0x00000000000000000000000000000000000000aa"

func newLedger(t *testing.T) *ledger.Engine {
	t.Helper()
	e, err := ledger.NewEngine(context.Background(), nil)
	require.NoError(t, err)
	return e
}

func eth(n uint64) *uint256.Int {
	v := uint256.NewInt(n)
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

func TestAssessUnknownAccount(t *testing.T) {
	a := New(newLedger(t), Config{}, nil)
	v := a.Assess(context.Background(), sender, model.CallParams{})
	assert.False(t, v.Proceed)
	assert.Equal(t, model.TrustLow, v.TrustLevel)
	assert.Equal(t, []string{"account not registered"}, v.Warnings)
	assert.Equal(t, model.RecommendReject, v.Recommendation)
}

type brokenSource struct{}

func (brokenSource) Account(string) (ledger.Account, error) {
	return ledger.Account{}, errors.New("store offline")
}

func TestAssessLookupFailure(t *testing.T) {
	v := New(brokenSource{}, Config{}, nil).Assess(context.Background(), sender, model.CallParams{})
	assert.False(t, v.Proceed)
	assert.Equal(t, []string{"reputation lookup failed"}, v.Warnings)
}

func TestAssess(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, l *ledger.Engine)
		value   *uint256.Int
		proceed bool
		level   model.TrustLevel
		rec     model.Recommendation
	}{
		{
			name:    "new account small value",
			value:   eth(1),
			proceed: true,
			level:   model.TrustMedium,
			rec:     model.RecommendApprove,
		},
		{
			name:    "medium trust large transfer",
			value:   eth(11),
			proceed: true,
			level:   model.TrustMedium,
			rec:     model.RecommendManualReview,
		},
		{
			name:    "exactly at threshold is not large",
			value:   eth(10),
			proceed: true,
			level:   model.TrustMedium,
			rec:     model.RecommendApprove,
		},
		{
			name: "low trust large transfer",
			setup: func(t *testing.T, l *ledger.Engine) {
				_, err := l.Register(ctx, "reporter", "r")
				require.NoError(t, err)
				_, err = l.Report(ctx, "reporter", sender)
				require.NoError(t, err)
			},
			value:   eth(50),
			proceed: false,
			level:   model.TrustLow,
			rec:     model.RecommendReject,
		},
		{
			name: "high trust large transfer",
			setup: func(t *testing.T, l *ledger.Engine) {
				_, err := l.RecordInteraction(ctx, sender, ledger.KindHelpful, 50)
				require.NoError(t, err)
			},
			value:   eth(50),
			proceed: true,
			level:   model.TrustHigh,
			rec:     model.RecommendApprove,
		},
		{
			name: "too many reports",
			setup: func(t *testing.T, l *ledger.Engine) {
				_, err := l.RecordInteraction(ctx, sender, ledger.KindHelpful, 50)
				require.NoError(t, err)
				_, err = l.Register(ctx, "reporter", "r")
				require.NoError(t, err)
				for i := 0; i < 6; i++ {
					_, err = l.Report(ctx, "reporter", sender)
					require.NoError(t, err)
				}
			},
			proceed: false,
			level:   model.TrustMedium,
			rec:     model.RecommendReject,
		},
		{
			name: "deactivated",
			setup: func(t *testing.T, l *ledger.Engine) {
				require.NoError(t, l.Deactivate(ctx, sender))
			},
			proceed: false,
			level:   model.TrustMedium,
			rec:     model.RecommendReject,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t)
			_, err := l.Register(ctx, sender, "sender")
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(t, l)
			}
			v := New(l, Config{}, nil).Assess(ctx, "0x"+strings.ToUpper(sender[2:]), model.CallParams{Value: tt.value})
			assert.Equal(t, tt.proceed, v.Proceed)
			assert.Equal(t, tt.level, v.TrustLevel)
			assert.Equal(t, tt.rec, v.Recommendation)
			if !tt.proceed || tt.rec == model.RecommendManualReview {
				assert.NotEmpty(t, v.Warnings)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	l := newLedger(t)
	_, err := l.Register(context.Background(), sender, "sender")
	require.NoError(t, err)
	a := New(l, Config{}, nil)

	s := a.Summary(strings.ToUpper(sender))
	require.NotNil(t, s)
	assert.Equal(t, 100, s.TrustScore)
	assert.Equal(t, "Bronze", s.Tier)
	assert.True(t, s.Active)

	assert.Nil(t, a.Summary(""))
	assert.Nil(t, a.Summary("0xunknown"))
}

func request(t *testing.T, method string, params ...any) jsonrpc.Request {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: method, Params: raw, ID: json.RawMessage("1")}
}

func TestExtractFromTransactionObject(t *testing.T) {
	req := request(t, "eth_sendTransaction", map[string]string{
		"from":  "0x00000000000000000000000000000000000000AA",
		"to":    "0x00000000000000000000000000000000000000bB",
		"value": "0xde0b6b3a7640000",
		"data":  "0xa9059cbb0000",
	})
	p, err := ExtractCallParams(req)
	require.NoError(t, err)
	assert.Equal(t, sender, p.From)
	assert.False(t, p.Verified)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", p.To)
	assert.Equal(t, "1000000000000000000", p.Value.Dec())
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb, 0, 0}, p.Data)
}

func TestExtractPrefersInputOverData(t *testing.T) {
	req := request(t, "eth_call", map[string]string{"to": sender, "input": "0x01", "data": "0x02"}, "latest")
	p, err := ExtractCallParams(req)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, p.Data)
	assert.Empty(t, p.From)
	assert.Nil(t, p.Value)
}

func TestExtractRawTransactionRecoversSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	to := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(42),
		Data:      []byte{0xde, 0xad},
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	p, err := ExtractCallParams(request(t, "eth_sendRawTransaction", hexutil.Encode(raw)))
	require.NoError(t, err)
	assert.Equal(t, want, p.From)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", p.To)
	assert.Equal(t, "42", p.Value.Dec())
	assert.Equal(t, []byte{0xde, 0xad}, p.Data)
	assert.True(t, p.Verified)
}

func TestExtractRawTransactionGarbage(t *testing.T) {
	_, err := ExtractCallParams(request(t, "eth_sendRawTransaction", "0x1234"))
	assert.Error(t, err)

	_, err = ExtractCallParams(request(t, "eth_sendRawTransaction"))
	assert.Error(t, err)
}

func TestExtractUnlockAccount(t *testing.T) {
	p, err := ExtractCallParams(request(t, "personal_unlockAccount", "0x00000000000000000000000000000000000000AA", "pw", 300))
	require.NoError(t, err)
	assert.Equal(t, sender, p.From)
}

func TestExtractOtherMethodsAreEmpty(t *testing.T) {
	p, err := ExtractCallParams(request(t, "eth_blockNumber"))
	require.NoError(t, err)
	assert.Equal(t, model.CallParams{}, p)
}
