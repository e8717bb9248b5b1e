package model

import "github.com/holiman/uint256"

// CallParams are the transaction fields pulled out of a call's params.
// Any field may be empty when the method does not carry it. Verified is
// set only when From was recovered from a transaction signature.
type CallParams struct {
	From     string       `json:"from,omitempty"`
	To       string       `json:"to,omitempty"`
	Value    *uint256.Int `json:"-"`
	Data     []byte       `json:"-"`
	Verified bool         `json:"-"`
}

// Selector returns the first four bytes of the payload, the ABI function
// selector, or nil when the payload is shorter.
func (p CallParams) Selector() []byte {
	if len(p.Data) < 4 {
		return nil
	}
	return p.Data[:4]
}

// AccountSummary is the reputation context handed to the classifier.
type AccountSummary struct {
	ID              string     `json:"id"`
	TrustScore      int        `json:"trust_score"`
	TrustLevel      TrustLevel `json:"trust_level"`
	Tier            string     `json:"tier"`
	ReportsReceived uint64     `json:"reports_received"`
	Active          bool       `json:"active"`
}
