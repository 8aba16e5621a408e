package scaling

import (
	"fmt"

	"k8s.io/utils/cpuset"
)

const (
	SelectByID                 = "by-id"
	SelectMostRecentlyOfflined = "lifo"
)

// SelectionPolicy chooses which core moves in a transition. Candidate sets
// passed to it are never empty.
type SelectionPolicy interface {
	// ForDeactivation picks one of the hotpluggable active cores.
	ForDeactivation(candidates cpuset.CPUSet) int
	// ForActivation picks one of the offline cores. offlineOrder lists the
	// offline cores in the order they went offline, oldest first.
	ForActivation(candidates cpuset.CPUSet, offlineOrder []int) int
}

// ByIDPolicy takes the highest id offline and brings the lowest id online.
type ByIDPolicy struct{}

func (ByIDPolicy) ForDeactivation(candidates cpuset.CPUSet) int {
	ids := candidates.List()
	return ids[len(ids)-1]
}

func (ByIDPolicy) ForActivation(candidates cpuset.CPUSet, _ []int) int {
	return candidates.List()[0]
}

// MostRecentlyOfflinedPolicy takes the highest id offline and brings back the
// core that went offline last.
type MostRecentlyOfflinedPolicy struct{}

func (MostRecentlyOfflinedPolicy) ForDeactivation(candidates cpuset.CPUSet) int {
	return ByIDPolicy{}.ForDeactivation(candidates)
}

func (MostRecentlyOfflinedPolicy) ForActivation(candidates cpuset.CPUSet, offlineOrder []int) int {
	for i := len(offlineOrder) - 1; i >= 0; i-- {
		if candidates.Contains(offlineOrder[i]) {
			return offlineOrder[i]
		}
	}
	return ByIDPolicy{}.ForActivation(candidates, offlineOrder)
}

func NewSelectionPolicy(name string) (SelectionPolicy, error) {
	switch name {
	case SelectByID:
		return ByIDPolicy{}, nil
	case SelectMostRecentlyOfflined:
		return MostRecentlyOfflinedPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown core selection policy %q", name)
	}
}
