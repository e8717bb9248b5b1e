package alert

// Event names a webhook can subscribe to.
const (
	EventRejected = "rejected"
	EventHeld     = "held"
	EventFailed   = "failed"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["rejected", "held", "failed"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	CallID    string `json:"call_id"`
	Method    string `json:"method"`
	Sender    string `json:"sender,omitempty"`
	RiskLevel string `json:"risk_level"`
	Rule      string `json:"rule,omitempty"`
	Reason    string `json:"reason"`
}
