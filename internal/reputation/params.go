package reputation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
	"github.com/ppiankov/rpcwarden/internal/model"
)

// txObjectMethods take a transaction object as their first parameter.
var txObjectMethods = map[string]bool{
	"eth_sendTransaction":      true,
	"eth_call":                 true,
	"eth_estimateGas":          true,
	"eth_signTransaction":      true,
	"personal_sendTransaction": true,
}

type txObject struct {
	From  string         `json:"from"`
	To    string         `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  *hexutil.Bytes `json:"data"`
	Input *hexutil.Bytes `json:"input"`
}

// ExtractCallParams pulls sender, recipient, value, and payload out of a
// call. Raw transactions are decoded and their signer recovered. Methods
// that carry no transaction yield empty params and a nil error.
func ExtractCallParams(req jsonrpc.Request) (model.CallParams, error) {
	switch {
	case txObjectMethods[req.Method]:
		return fromTxObject(req)
	case req.Method == "eth_sendRawTransaction":
		return fromRawTx(req)
	case req.Method == "personal_unlockAccount":
		params, err := req.ParamsArray()
		if err != nil || len(params) == 0 {
			return model.CallParams{}, fmt.Errorf("%s: missing account param", req.Method)
		}
		var addr string
		if err := json.Unmarshal(params[0], &addr); err != nil {
			return model.CallParams{}, fmt.Errorf("%s: account param: %w", req.Method, err)
		}
		return model.CallParams{From: normalizeAddress(addr)}, nil
	}
	return model.CallParams{}, nil
}

func fromTxObject(req jsonrpc.Request) (model.CallParams, error) {
	params, err := req.ParamsArray()
	if err != nil || len(params) == 0 {
		return model.CallParams{}, fmt.Errorf("%s: missing transaction object", req.Method)
	}
	var tx txObject
	if err := json.Unmarshal(params[0], &tx); err != nil {
		return model.CallParams{}, fmt.Errorf("%s: transaction object: %w", req.Method, err)
	}

	out := model.CallParams{
		From: normalizeAddress(tx.From),
		To:   normalizeAddress(tx.To),
	}
	if tx.Value != nil {
		v, overflow := uint256.FromBig(tx.Value.ToInt())
		if overflow {
			return model.CallParams{}, fmt.Errorf("%s: value exceeds 256 bits", req.Method)
		}
		out.Value = v
	}
	switch {
	case tx.Input != nil:
		out.Data = *tx.Input
	case tx.Data != nil:
		out.Data = *tx.Data
	}
	return out, nil
}

func fromRawTx(req jsonrpc.Request) (model.CallParams, error) {
	params, err := req.ParamsArray()
	if err != nil || len(params) == 0 {
		return model.CallParams{}, fmt.Errorf("%s: missing raw transaction", req.Method)
	}
	var raw hexutil.Bytes
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return model.CallParams{}, fmt.Errorf("%s: raw transaction: %w", req.Method, err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return model.CallParams{}, fmt.Errorf("%s: decode transaction: %w", req.Method, err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return model.CallParams{}, fmt.Errorf("%s: recover sender: %w", req.Method, err)
	}

	out := model.CallParams{
		From:     normalizeAddress(from.Hex()),
		Data:     tx.Data(),
		Verified: true,
	}
	if to := tx.To(); to != nil {
		out.To = normalizeAddress(to.Hex())
	}
	if v := tx.Value(); v != nil {
		out.Value, _ = uint256.FromBig(v)
	}
	return out, nil
}

// normalizeAddress lower-cases hex addresses so they match ledger ids.
func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return strings.ToLower(common.HexToAddress(s).Hex())
	}
	return strings.ToLower(s)
}
