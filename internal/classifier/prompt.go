package classifier

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const systemPrompt = `You are a risk classifier for blockchain JSON-RPC calls sent through a gateway.
Assess whether the call could move funds, expose keys, alter node state, or is likely fraudulent.
Take the sender's reputation into account when it is given.

Answer in exactly this format and nothing else:
RISK_LEVEL: <LOW|MEDIUM|HIGH>
SHOULD_PROCEED: <true|false>
REASONING: <one sentence>`

// buildPrompt renders a call into the fixed prompt layout. Only the first
// 10 bytes of the payload are included.
func buildPrompt(req Request) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Method: %s\n", req.Method)
	if req.Params.From != "" {
		fmt.Fprintf(&b, "From: %s\n", req.Params.From)
	}
	if req.Params.To != "" {
		fmt.Fprintf(&b, "To: %s\n", req.Params.To)
	} else if len(req.Params.Data) > 0 {
		b.WriteString("To: (contract creation)\n")
	}
	if req.Params.Value != nil {
		fmt.Fprintf(&b, "Value (wei): %s\n", req.Params.Value.Dec())
	}
	if n := len(req.Params.Data); n > 0 {
		prefix := req.Params.Data
		if n > 10 {
			prefix = prefix[:10]
		}
		fmt.Fprintf(&b, "Payload prefix: %s (%d bytes total)\n", hexutil.Encode(prefix), n)
		if sel := req.Params.Selector(); sel != nil {
			fmt.Fprintf(&b, "Function selector: %s\n", hexutil.Encode(sel))
		}
	}

	if a := req.Account; a != nil {
		fmt.Fprintf(&b, "\nSender reputation:\n")
		fmt.Fprintf(&b, "  Trust score: %d/1000 (%s)\n", a.TrustScore, a.TrustLevel)
		fmt.Fprintf(&b, "  Tier: %s\n", a.Tier)
		fmt.Fprintf(&b, "  Reports received: %d\n", a.ReportsReceived)
		if !a.Active {
			b.WriteString("  Account is deactivated\n")
		}
	} else {
		b.WriteString("\nSender reputation: unknown\n")
	}

	return Prompt{System: systemPrompt, User: b.String()}
}
