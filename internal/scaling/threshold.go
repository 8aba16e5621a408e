package scaling

import (
	"fmt"

	"github.com/AMDEPYC/core-power-manager/internal/metrics"
)

const (
	// ReferencePrevious derives a cycle's thresholds from the smoothed values
	// as they were before the cycle's sample was folded in.
	ReferencePrevious = "previous"
	// ReferenceCurrent derives thresholds from smoothed values that already
	// include the cycle's sample. The raw sample, not the smoothed value, is
	// compared against them.
	ReferenceCurrent = "current"

	DefaultMargin = 0.10
)

// Decision is the outcome of comparing a sample against its thresholds.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionDeactivate
	DecisionActivate
)

func (d Decision) String() string {
	switch d {
	case DecisionDeactivate:
		return "deactivate"
	case DecisionActivate:
		return "activate"
	default:
		return "none"
	}
}

// Thresholds holds the per-metric activation thresholds of one cycle.
type Thresholds struct {
	Load Reading
	IRQ  Reading
	IPC  Reading
}

func (t Thresholds) Defined() bool {
	return t.Load.Defined && t.IRQ.Defined && t.IPC.Defined
}

// Threshold returns smoothed * (1 + margin), undefined if smoothed is.
func Threshold(smoothed Reading, margin float64) Reading {
	if !smoothed.Defined {
		return Reading{}
	}
	return defined(smoothed.Value * (1 + margin))
}

// ThresholdPolicy compares raw samples against thresholds derived from
// smoothed values and a fixed margin.
type ThresholdPolicy struct {
	margin    float64
	reference string
}

func NewThresholdPolicy(margin float64, reference string) (ThresholdPolicy, error) {
	if margin < 0 {
		return ThresholdPolicy{}, fmt.Errorf("margin must not be negative, got %v", margin)
	}
	if reference != ReferencePrevious && reference != ReferenceCurrent {
		return ThresholdPolicy{}, fmt.Errorf("unknown threshold reference %q", reference)
	}
	return ThresholdPolicy{margin: margin, reference: reference}, nil
}

// Thresholds picks the reference according to the policy. before holds the
// smoothed values prior to this cycle's update, after the values including it.
func (p ThresholdPolicy) Thresholds(before, after SmoothedMetrics) Thresholds {
	ref := after
	if p.reference == ReferencePrevious {
		ref = before
	}

	return Thresholds{
		Load: Threshold(ref.Load, p.margin),
		IRQ:  Threshold(ref.IRQ, p.margin),
		IPC:  Threshold(ref.IPC, p.margin),
	}
}

// Decide returns DecisionDeactivate when every metric is below its threshold
// and DecisionActivate when any metric reaches it. It returns DecisionNone while
// any threshold is undefined or the IRQ sample is only a baseline.
func (p ThresholdPolicy) Decide(sample metrics.MetricSample, th Thresholds) Decision {
	if !th.Defined() || sample.IRQPriming {
		return DecisionNone
	}

	if below(sample.Load, th.Load.Value) &&
		below(float64(sample.IRQCount), th.IRQ.Value) &&
		below(sample.IPC, th.IPC.Value) {
		return DecisionDeactivate
	}

	return DecisionActivate
}

// below treats an idle metric against an idle baseline as below, so a
// source reporting zero never forces activation on its own.
func below(value, threshold float64) bool {
	if value == 0 && threshold == 0 {
		return true
	}
	return value < threshold
}
