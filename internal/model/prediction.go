package model

import "time"

// NoChangeReason is reported when no feature moved significantly.
const NoChangeReason = "No significant metric changes detected."

// Spike is the single most significant feature change in a window.
// Metric is nil when nothing was significant.
type Spike struct {
	Metric *string `json:"metric"`
	Change string  `json:"change"`
}

// NoSpike returns the spike reported when no feature is significant.
func NoSpike() Spike {
	return Spike{Metric: nil, Change: "N/A"}
}

// Prediction is the combined classifier verdict and explanation for a window.
type Prediction struct {
	WillFail    bool    `json:"will_fail"`
	Probability float64 `json:"probability"`
	Reason      string  `json:"reason"`
	LastSpike   Spike   `json:"last_spike"`

	Timestamp time.Time `json:"timestamp,omitzero"`
	Host      string    `json:"host,omitempty"`
	// SyntheticRows lists timesteps that were zero-filled after an
	// acquisition failure.
	SyntheticRows []int `json:"synthetic_rows,omitempty"`
}
