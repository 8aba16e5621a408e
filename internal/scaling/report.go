package scaling

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-logr/logr"
)

// Reporter writes a human-readable summary of every cycle.
type Reporter struct {
	out io.Writer
	log logr.Logger
}

func NewReporter(out io.Writer, log logr.Logger) *Reporter {
	return &Reporter{out: out, log: log}
}

func (r *Reporter) ObserveCycle(result CycleResult) {
	if err := r.write(result); err != nil {
		r.log.Error(err, "failed to write cycle report", "cycle", result.Cycle)
	}
}

func (r *Reporter) write(res CycleResult) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "cycle %d\tdecision %s\ttransition %s\n", res.Cycle, res.Decision, formatTransition(res.Transition))
	fmt.Fprintln(w, "METRIC\tSAMPLE\tSMOOTHED\tTHRESHOLD")
	fmt.Fprintf(w, "load\t%.2f\t%s\t%s\n", res.Sample.Load, formatReading(res.Smoothed.Load), formatReading(res.Thresholds.Load))
	fmt.Fprintf(w, "irq\t%d\t%s\t%s\n", res.Sample.IRQCount, formatReading(res.Smoothed.IRQ), formatReading(res.Thresholds.IRQ))
	fmt.Fprintf(w, "ipc\t%.3f\t%s\t%s\n", res.Sample.IPC, formatReading(res.Smoothed.IPC), formatReading(res.Thresholds.IPC))
	fmt.Fprintf(w, "active cores: %d/%d\n", res.Active.Size(), len(res.Cores))

	fmt.Fprintln(w, "CORE\tUSAGE\tSTATE\tMHZ")
	for _, core := range res.Cores {
		usage := "-"
		if u, ok := res.Usage[core.ID]; ok && core.State == CoreOnline {
			usage = fmt.Sprintf("%.1f%%", u)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", core.ID, usage, core.State, core.Frequency/1000)
	}

	if len(res.Reassigned) > 0 {
		fmt.Fprintf(w, "reassigned pids: %v\n", res.Reassigned)
	} else {
		fmt.Fprintln(w, "reassigned pids: none")
	}

	return w.Flush()
}

func formatReading(r Reading) string {
	if !r.Defined {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", r.Value)
}

func formatTransition(t Transition) string {
	if t.Direction == NoTransition {
		return "none"
	}
	return fmt.Sprintf("%s core %d", t.Direction, t.CoreID)
}
