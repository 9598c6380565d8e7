package event

// FusedComponent records one signal's contribution to a fused conviction,
// kept alongside the result so the weighting is auditable.
type FusedComponent struct {
	SignalID  string  `json:"signal_id"`
	Score     int     `json:"score"`
	BaseScore float64 `json:"base_score"`
	Weight    float64 `json:"weight"`
	Sentiment float64 `json:"sentiment"`
}

// FusedSignal combines the signals emitted for one issuer within a time
// window into a single conviction score on a 0-100 scale.
type FusedSignal struct {
	SignalType      string           `json:"signal_type"` // always "fused_conviction"
	IssuerKey       string           `json:"issuer_key"`
	Ticker          string           `json:"ticker,omitempty"`
	CIK             string           `json:"cik,omitempty"`
	Company         string           `json:"company,omitempty"`
	ConvictionScore float64          `json:"conviction_score"`
	ConvictionLevel string           `json:"conviction_level"` // HIGH, MEDIUM, LOW, NEUTRAL
	NetSentiment    float64          `json:"net_sentiment"`    // -1 bearish .. +1 bullish
	Alignment       string           `json:"alignment"`        // aligned or conflicted
	NumSignals      int              `json:"num_signals"`
	WindowStartUTC  string           `json:"window_start_utc"`
	WindowEndUTC    string           `json:"window_end_utc"`
	GeneratedAtUTC  string           `json:"generated_at_utc"`
	Components      []FusedComponent `json:"component_signals"`
}
