package classifier

import (
	"strings"

	"github.com/ppiankov/rpcwarden/internal/model"
)

// readOnlyMethods never change chain or node state.
var readOnlyMethods = map[string]bool{
	"eth_blockNumber":                         true,
	"eth_chainId":                             true,
	"eth_gasPrice":                            true,
	"eth_maxPriorityFeePerGas":                true,
	"eth_feeHistory":                          true,
	"eth_getBalance":                          true,
	"eth_getCode":                             true,
	"eth_getStorageAt":                        true,
	"eth_getTransactionCount":                 true,
	"eth_getTransactionByHash":                true,
	"eth_getTransactionReceipt":               true,
	"eth_getBlockByNumber":                    true,
	"eth_getBlockByHash":                      true,
	"eth_getBlockTransactionCountByNumber":    true,
	"eth_getBlockTransactionCountByHash":      true,
	"eth_getTransactionByBlockNumberAndIndex": true,
	"eth_getLogs":                             true,
	"eth_call":                                true,
	"eth_estimateGas":                         true,
	"eth_syncing":                             true,
	"eth_accounts":                            true,
	"eth_getProof":                            true,
	"net_version":                             true,
	"net_listening":                           true,
	"net_peerCount":                           true,
	"web3_clientVersion":                      true,
	"web3_sha3":                               true,
}

// highRiskMethods move funds, expose keys, or control the node.
var highRiskMethods = map[string]bool{
	"eth_sendTransaction":      true,
	"eth_sendRawTransaction":   true,
	"eth_signTransaction":      true,
	"eth_sign":                 true,
	"personal_unlockAccount":   true,
	"personal_sendTransaction": true,
	"personal_sign":            true,
}

// highRiskPrefixes cover whole method families.
var highRiskPrefixes = []string{"miner_", "debug_trace", "admin_"}

// IsReadOnly reports whether method is on the read-only allow-list.
func IsReadOnly(method string) bool {
	return readOnlyMethods[method]
}

// IsHighRisk reports whether method is on the high-risk list.
func IsHighRisk(method string) bool {
	if highRiskMethods[method] {
		return true
	}
	for _, p := range highRiskPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// Fallback classifies by method name alone. It is used whenever the
// completion service fails and is a pure function of method.
func Fallback(method string) model.RiskVerdict {
	switch {
	case IsReadOnly(method):
		return model.RiskVerdict{Level: model.RiskLow, Proceed: true, Reasoning: "read-only method", Source: model.SourceFallback}
	case IsHighRisk(method):
		return model.RiskVerdict{Level: model.RiskHigh, Proceed: false, Reasoning: "classifier unavailable; " + method + " is high-risk", Source: model.SourceFallback}
	default:
		return model.RiskVerdict{Level: model.RiskMedium, Proceed: true, Reasoning: "classifier unavailable; default policy", Source: model.SourceFallback}
	}
}

func fallbackLevel(method string) model.RiskLevel {
	return Fallback(method).Level
}
