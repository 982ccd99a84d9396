package metrics

import "time"

// TurnMetrics captures one mission turn end to end.
type TurnMetrics struct {
	MissionID  string    `json:"mission_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"duration_ms"`
	Succeeded  bool      `json:"succeeded"`
	Model      string    `json:"model,omitempty"`
	CostCents  int64     `json:"cost_cents"`
	TokensIn   int       `json:"tokens_in,omitempty"`
	TokensOut  int       `json:"tokens_out,omitempty"`
	Events     int       `json:"events"`
}

// Compute derived fields for a finished turn.
func (t *TurnMetrics) Finalize() {
	t.End = time.Now()
	t.DurationMs = t.End.Sub(t.Start).Milliseconds()
}
