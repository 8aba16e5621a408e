package scaling

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"
)

// Func definitions for unit testing
var (
	pidsFunc             = process.PidsWithContext
	schedGetaffinityFunc = unix.SchedGetaffinity
	schedSetaffinityFunc = unix.SchedSetaffinity
)

// ProcessTable enumerates processes and reads or writes their CPU affinity.
// Implementations return ErrProcessVanished for processes that exited.
type ProcessTable interface {
	PIDs(ctx context.Context) ([]int32, error)
	Affinity(pid int32) (cpuset.CPUSet, error)
	SetAffinity(pid int32, cpus cpuset.CPUSet) error
}

// OSProcessTable reads the live process table of the host.
type OSProcessTable struct{}

func (OSProcessTable) PIDs(ctx context.Context) ([]int32, error) {
	pids, err := pidsFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return pids, nil
}

func (OSProcessTable) Affinity(pid int32) (cpuset.CPUSet, error) {
	var set unix.CPUSet
	if err := schedGetaffinityFunc(int(pid), &set); err != nil {
		return cpuset.New(), wrapAffinityErr(err, pid, "read")
	}

	ids := make([]int, 0, set.Count())
	for cpu := 0; len(ids) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			ids = append(ids, cpu)
		}
	}

	return cpuset.New(ids...), nil
}

func (OSProcessTable) SetAffinity(pid int32, cpus cpuset.CPUSet) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus.List() {
		set.Set(cpu)
	}

	if err := schedSetaffinityFunc(int(pid), &set); err != nil {
		return wrapAffinityErr(err, pid, "write")
	}
	return nil
}

func wrapAffinityErr(err error, pid int32, op string) error {
	if errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%w: pid %d", ErrProcessVanished, pid)
	}
	return fmt.Errorf("failed to %s affinity of pid %d: %w", op, pid, err)
}

// AffinityRebalancer re-pins processes that may only run on cores outside
// the active set.
type AffinityRebalancer struct {
	procs ProcessTable
	log   logr.Logger
}

func NewAffinityRebalancer(procs ProcessTable, log logr.Logger) *AffinityRebalancer {
	return &AffinityRebalancer{
		procs: procs,
		log:   log,
	}
}

// Rebalance pins every process whose affinity has no member of active to the
// lowest active core and returns the reassigned pids in ascending order.
// Processes already able to run on an active core are not written.
func (r *AffinityRebalancer) Rebalance(ctx context.Context, active cpuset.CPUSet) []int32 {
	reassigned := make([]int32, 0)
	if active.IsEmpty() {
		r.log.Info("active set is empty, skipping affinity rebalance")
		return reassigned
	}
	target := cpuset.New(active.List()[0])

	pids, err := r.procs.PIDs(ctx)
	if err != nil {
		r.log.Error(err, "skipping affinity rebalance")
		return reassigned
	}

	for _, pid := range pids {
		if ctx.Err() != nil {
			break
		}

		affinity, err := r.procs.Affinity(pid)
		if err != nil {
			if !errors.Is(err, ErrProcessVanished) {
				r.log.V(5).Info(fmt.Sprintf("skipping process, err: %v", err), "pid", pid)
			}
			continue
		}
		if !affinity.Intersection(active).IsEmpty() {
			continue
		}

		if err := r.procs.SetAffinity(pid, target); err != nil {
			if !errors.Is(err, ErrProcessVanished) {
				r.log.Error(err, "failed to reassign process", "pid", pid, "from", affinity.String())
			}
			continue
		}
		reassigned = append(reassigned, pid)
	}

	slices.Sort(reassigned)
	if len(reassigned) > 0 {
		r.log.Info("reassigned processes", "pids", reassigned, "core", target.String())
	}

	return reassigned
}
