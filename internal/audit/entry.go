package audit

// Entry kinds.
const (
	KindCall    = "call"
	KindApprove = "approve"
	KindReward  = "reward"
	KindLedger  = "ledger"
)

// Entry is one line in the hash-chained JSONL audit log. It has no map
// fields so json.Marshal output, and therefore the chain hash, is stable.
type Entry struct {
	Timestamp  string `json:"ts"`
	Kind       string `json:"kind"`
	CallID     string `json:"call_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Account    string `json:"account,omitempty"`
	Outcome    string `json:"outcome"`
	RiskLevel  string `json:"risk_level,omitempty"`
	Rule       string `json:"rule,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Amount     string `json:"amount,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}
