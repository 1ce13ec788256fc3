// Package attribution explains a prediction by the largest first-to-last
// metric changes in the raw, unscaled window. It never looks at the
// classifier, so explanations are in real-world units.
package attribution

import (
	"fmt"
	"math"
	"strings"

	"github.com/crimson-sun/failcast/internal/model"
)

const (
	// SignificantPct is the strict absolute percent change above which a
	// feature is reported.
	SignificantPct = 20.0
	// zeroGuard is the magnitude below which a first value is treated as
	// zero and the percent change is defined as 0.
	zeroGuard = 1e-5
)

// Change is the first-to-last movement of one feature over a window.
type Change struct {
	Feature     string  `json:"feature"`
	First       float64 `json:"first"`
	Last        float64 `json:"last"`
	Delta       float64 `json:"delta"`
	Pct         float64 `json:"pct"`
	Significant bool    `json:"significant"`
}

// Describe renders the change as "<feature> increased by +X.X%".
func (c Change) Describe() string {
	verb := "decreased"
	if c.Pct > 0 {
		verb = "increased"
	}
	return fmt.Sprintf("%s %s by %s", c.Feature, verb, formatPct(c.Pct))
}

// Explanation is the human-readable attribution for a window.
type Explanation struct {
	Reason    string      `json:"reason"`
	LastSpike model.Spike `json:"last_spike"`
}

// Changes computes the per-feature change for every feature, in feature order.
func Changes(w model.Window) []Change {
	first, last := w.First(), w.Last()
	out := make([]Change, model.NumFeatures)
	for f, name := range model.Features {
		delta := last[f] - first[f]
		pct := 0.0
		if math.Abs(first[f]) > zeroGuard {
			pct = delta / first[f] * 100
		}
		out[f] = Change{
			Feature:     name,
			First:       first[f],
			Last:        last[f],
			Delta:       delta,
			Pct:         pct,
			Significant: math.Abs(pct) > SignificantPct,
		}
	}
	return out
}

// Explain builds the reason string and picks the spike: the significant
// feature with the largest absolute percent change, earliest feature on ties.
func Explain(w model.Window) Explanation {
	var (
		reasons []string
		top     *Change
	)
	changes := Changes(w)
	for i := range changes {
		c := &changes[i]
		if !c.Significant {
			continue
		}
		reasons = append(reasons, c.Describe())
		if top == nil || math.Abs(c.Pct) > math.Abs(top.Pct) {
			top = c
		}
	}

	if top == nil {
		return Explanation{Reason: model.NoChangeReason, LastSpike: model.NoSpike()}
	}
	metric := top.Feature
	return Explanation{
		Reason:    strings.Join(reasons, "; "),
		LastSpike: model.Spike{Metric: &metric, Change: formatPct(top.Pct)},
	}
}

func formatPct(pct float64) string {
	return fmt.Sprintf("%+.1f%%", pct)
}
