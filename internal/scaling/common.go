package scaling

import (
	"errors"
	"time"
)

var (
	// ErrControlWrite is returned when an online/offline or governor write failed.
	// The affected core keeps its previously recorded state.
	ErrControlWrite = errors.New("control write failed")
	// ErrProcessVanished is returned when a process exited between enumeration
	// and an affinity read or write.
	ErrProcessVanished = errors.New("process vanished")
)

const (
	DefaultPerformanceGovernor = "performance"
	DefaultPowersaveGovernor   = "powersave"
)

// Reading is a derived scalar that may not be available yet.
type Reading struct {
	Value   float64
	Defined bool
}

func defined(v float64) Reading {
	return Reading{Value: v, Defined: true}
}

// CoreManagerOpts carries the tunables of the control loop.
type CoreManagerOpts struct {
	// CycleInterval is the sleep between the end of one cycle and the start of the next.
	CycleInterval       time.Duration
	PerformanceGovernor string
	PowersaveGovernor   string
}
