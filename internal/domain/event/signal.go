package event

// Signal is a threshold-crossing aggregation of Facts for one issuer.
// Immutable once written to the signal queue; consumers are responsible for
// their own dedup if exactly-once delivery matters downstream.
type Signal struct {
	SignalID       string   `json:"signal_id"`
	IssuerKey      string   `json:"issuer_key"`
	Ticker         string   `json:"ticker,omitempty"`
	CIK            string   `json:"cik,omitempty"`
	Company        string   `json:"company,omitempty"`
	Score          int      `json:"score"`
	Threshold      int      `json:"threshold"`
	RuleHits       []string `json:"rule_hits"`
	Evidence       []Fact   `json:"evidence"`
	GeneratedAtUTC string   `json:"generated_at_utc"`
}
