// Package policy evaluates whether a completed test run passes, applying
// configurable thresholds against performance, security, and visual
// regression findings. Evaluation is a pure function of its inputs so it
// can be unit tested without any of the executors or sidecars it judges.
// Reasons are short machine-readable codes (e.g. "score<80", "high>0") so
// callers can group and alert on them without parsing prose.
package policy

import "fmt"

// Thresholds configures the pass/fail boundaries policy evaluation applies.
// Zero values disable the performance checks (PerfScoreMin, PerfLCPMaxMS,
// PerfCLSMax, PerfTTIMaxMS). ZAPAllowHigh, ZAPAllowMed and VisualMaxDiff are
// limits even at zero: any High or Medium alert, or any mismatch above 0%,
// then fails.
type Thresholds struct {
	PerfScoreMin  float64
	PerfLCPMaxMS  float64
	PerfCLSMax    float64
	PerfTTIMaxMS  float64
	ZAPAllowHigh  int
	ZAPAllowMed   int
	VisualMaxDiff float64
}

// PerformanceFindings is the subset of a Lighthouse report policy judges.
type PerformanceFindings struct {
	Score  float64
	LCP    float64
	CLS    float64
	TTI    float64
	Loaded bool
}

// SecurityFindings is the subset of a ZAP scan policy judges.
type SecurityFindings struct {
	High    int
	Medium  int
	Scanned bool
}

// VisualFindings is the subset of a visual regression diff policy judges.
type VisualFindings struct {
	MismatchPct   float64
	HasBaseline   bool
	DiffAvailable bool
}

// Verdict is the outcome of evaluating one or more dimensions against Thresholds.
type Verdict struct {
	Pass    bool
	Reasons []string
}

// EvaluatePerformance reports whether perf satisfies t. perf.Loaded == false
// (the sidecar was never invoked) always passes, since an unexercised
// dimension cannot fail a run.
func EvaluatePerformance(t Thresholds, perf PerformanceFindings) Verdict {
	if !perf.Loaded {
		return Verdict{Pass: true}
	}

	var reasons []string

	if t.PerfScoreMin > 0 && perf.Score < t.PerfScoreMin {
		reasons = append(reasons, fmt.Sprintf("score<%g", t.PerfScoreMin))
	}

	if t.PerfLCPMaxMS > 0 && perf.LCP > t.PerfLCPMaxMS {
		reasons = append(reasons, fmt.Sprintf("lcp>%g", t.PerfLCPMaxMS))
	}

	if t.PerfCLSMax > 0 && perf.CLS > t.PerfCLSMax {
		reasons = append(reasons, fmt.Sprintf("cls>%g", t.PerfCLSMax))
	}

	if t.PerfTTIMaxMS > 0 && perf.TTI > t.PerfTTIMaxMS {
		reasons = append(reasons, fmt.Sprintf("tti>%g", t.PerfTTIMaxMS))
	}

	return Verdict{Pass: len(reasons) == 0, Reasons: reasons}
}

// EvaluateSecurity reports whether sec satisfies t.
func EvaluateSecurity(t Thresholds, sec SecurityFindings) Verdict {
	if !sec.Scanned {
		return Verdict{Pass: true}
	}

	var reasons []string

	if sec.High > t.ZAPAllowHigh {
		reasons = append(reasons, fmt.Sprintf("high>%d", t.ZAPAllowHigh))
	}

	if sec.Medium > t.ZAPAllowMed {
		reasons = append(reasons, fmt.Sprintf("medium>%d", t.ZAPAllowMed))
	}

	return Verdict{Pass: len(reasons) == 0, Reasons: reasons}
}

// EvaluateVisual reports whether vis satisfies t. A missing baseline always
// passes: there is nothing to regress against yet, and the caller is
// expected to have just established one.
func EvaluateVisual(t Thresholds, vis VisualFindings) Verdict {
	if !vis.HasBaseline {
		return Verdict{Pass: true}
	}

	if vis.MismatchPct > t.VisualMaxDiff {
		return Verdict{Pass: false, Reasons: []string{fmt.Sprintf("visual_diff>%g", t.VisualMaxDiff)}}
	}

	return Verdict{Pass: true}
}

// Combine folds multiple dimension verdicts into one overall verdict.
func Combine(verdicts ...Verdict) Verdict {
	overall := Verdict{Pass: true}

	for _, v := range verdicts {
		if !v.Pass {
			overall.Pass = false
			overall.Reasons = append(overall.Reasons, v.Reasons...)
		}
	}

	return overall
}
