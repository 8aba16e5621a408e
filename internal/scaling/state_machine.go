package scaling

import (
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"k8s.io/utils/cpuset"
)

type CoreState int

const (
	CoreOffline CoreState = iota
	CoreOnline
)

func (s CoreState) String() string {
	if s == CoreOnline {
		return "online"
	}
	return "offline"
}

// Core is the record of one logical CPU.
type Core struct {
	ID      int
	Present bool
	State   CoreState
	// Hotpluggable cores expose an online control; the others are always online.
	Hotpluggable bool
	// Frequency is the last observed frequency in kHz, informational only.
	Frequency uint
}

type Direction int

const (
	NoTransition Direction = iota
	Deactivated
	Activated
)

func (d Direction) String() string {
	switch d {
	case Deactivated:
		return "deactivated"
	case Activated:
		return "activated"
	default:
		return "none"
	}
}

// Transition describes the core moved by a Step, if any.
type Transition struct {
	Direction Direction
	CoreID    int
}

// CoreStateMachine owns the partition of cores into active and offline. The
// set of cores is fixed at construction; at most one core moves per Step.
type CoreStateMachine struct {
	cores        []Core
	control      CPUControl
	policy       SelectionPolicy
	minActive    int
	offlineOrder []int
	log          logr.Logger
}

// NewCoreStateMachine builds the partition from the OS-reported online state
// of every present core.
func NewCoreStateMachine(control CPUControl, policy SelectionPolicy, minActive int, log logr.Logger) (*CoreStateMachine, error) {
	if minActive < 1 {
		return nil, fmt.Errorf("minimum active cores must be at least 1, got %d", minActive)
	}

	present, err := control.PresentCPUs()
	if err != nil {
		return nil, err
	}
	if present.IsEmpty() {
		return nil, fmt.Errorf("no present cpus found")
	}

	ids := present.List()
	m := &CoreStateMachine{
		cores:        make([]Core, ids[len(ids)-1]+1),
		control:      control,
		policy:       policy,
		minActive:    minActive,
		offlineOrder: make([]int, 0),
		log:          log,
	}

	for id := range m.cores {
		m.cores[id].ID = id
	}
	for _, id := range ids {
		online, err := control.IsOnline(id)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize core %d: %w", id, err)
		}
		core := &m.cores[id]
		core.Present = true
		core.Hotpluggable = control.IsHotpluggable(id)
		core.State = CoreOffline
		if online {
			core.State = CoreOnline
		} else {
			m.offlineOrder = append(m.offlineOrder, id)
		}
	}

	m.log.V(4).Info("core state machine initialized",
		"active", m.Active().String(), "offline", m.Offline().String(), "floor", m.Floor())

	return m, nil
}

// Floor is the effective minimum of active cores, capped by the core count.
func (m *CoreStateMachine) Floor() int {
	return min(m.minActive, m.Total())
}

func (m *CoreStateMachine) Total() int {
	total := 0
	for _, core := range m.cores {
		if core.Present {
			total++
		}
	}
	return total
}

func (m *CoreStateMachine) coresIn(state CoreState) cpuset.CPUSet {
	ids := make([]int, 0, len(m.cores))
	for _, core := range m.cores {
		if core.Present && core.State == state {
			ids = append(ids, core.ID)
		}
	}
	return cpuset.New(ids...)
}

func (m *CoreStateMachine) Active() cpuset.CPUSet {
	return m.coresIn(CoreOnline)
}

func (m *CoreStateMachine) Offline() cpuset.CPUSet {
	return m.coresIn(CoreOffline)
}

// Cores returns a copy of the present core records ordered by id.
func (m *CoreStateMachine) Cores() []Core {
	cores := make([]Core, 0, len(m.cores))
	for _, core := range m.cores {
		if core.Present {
			cores = append(cores, core)
		}
	}
	return cores
}

// Sync re-reads the online state of every hotpluggable core and adopts it,
// so changes made outside this process are not hidden by cached state.
// It returns the ids of cores whose recorded state was wrong.
func (m *CoreStateMachine) Sync() []int {
	drifted := make([]int, 0)

	for id := range m.cores {
		core := &m.cores[id]
		if !core.Present || !core.Hotpluggable {
			continue
		}

		online, err := m.control.IsOnline(id)
		if err != nil {
			m.log.Error(err, "keeping recorded core state", "core", id, "state", core.State.String())
			continue
		}

		observed := CoreOffline
		if online {
			observed = CoreOnline
		}
		if observed == core.State {
			continue
		}

		m.log.Info("core state changed outside of the manager", "core", id,
			"recorded", core.State.String(), "observed", observed.String())
		m.setState(id, observed)
		drifted = append(drifted, id)
	}

	return drifted
}

// RefreshFrequencies reads the current frequency of every active core.
func (m *CoreStateMachine) RefreshFrequencies() {
	for id := range m.cores {
		core := &m.cores[id]
		if !core.Present {
			continue
		}
		if core.State == CoreOffline {
			core.Frequency = 0
			continue
		}

		freq, err := m.control.CurrentFrequency(id)
		if err != nil {
			m.log.V(5).Info(fmt.Sprintf("frequency unavailable, err: %v", err), "core", id)
			freq = 0
		}
		core.Frequency = freq
	}
}

// Step executes at most one transition for the decision. If the active set
// has fallen below the floor and an offline core exists, a core is activated
// regardless of the decision.
func (m *CoreStateMachine) Step(decision Decision) (Transition, error) {
	active := m.Active()
	offline := m.Offline()

	if active.Size() < m.Floor() && !offline.IsEmpty() {
		m.log.Info("active cores below floor, restoring", "active", active.Size(), "floor", m.Floor())
		return m.transition(m.policy.ForActivation(offline, m.offlineOrder), CoreOnline)
	}

	switch decision {
	case DecisionDeactivate:
		if active.Size() <= m.Floor() {
			m.log.V(5).Info("floor reached, not deactivating", "active", active.Size(), "floor", m.Floor())
			return Transition{}, nil
		}
		candidates := m.hotpluggable(active)
		if candidates.IsEmpty() {
			m.log.V(5).Info("no hotpluggable active core to deactivate")
			return Transition{}, nil
		}
		return m.transition(m.policy.ForDeactivation(candidates), CoreOffline)

	case DecisionActivate:
		if offline.IsEmpty() {
			m.log.Info("activation requested but no offline core is available")
			return Transition{}, nil
		}
		return m.transition(m.policy.ForActivation(offline, m.offlineOrder), CoreOnline)
	}

	return Transition{}, nil
}

func (m *CoreStateMachine) hotpluggable(set cpuset.CPUSet) cpuset.CPUSet {
	ids := make([]int, 0, set.Size())
	for _, id := range set.List() {
		if m.cores[id].Hotpluggable {
			ids = append(ids, id)
		}
	}
	return cpuset.New(ids...)
}

// transition records the new state first and then writes it to the OS. A
// failed write restores the previous core record and partition.
func (m *CoreStateMachine) transition(id int, to CoreState) (Transition, error) {
	prev := m.cores[id]
	prevOrder := slices.Clone(m.offlineOrder)

	m.setState(id, to)

	if err := m.control.SetOnline(id, to == CoreOnline); err != nil {
		m.cores[id] = prev
		m.offlineOrder = prevOrder
		return Transition{}, fmt.Errorf("%w: core %d to %s: %v", ErrControlWrite, id, to, err)
	}

	direction := Activated
	if to == CoreOffline {
		direction = Deactivated
	}
	m.log.Info("core "+direction.String(), "core", id, "active", m.Active().Size())

	return Transition{Direction: direction, CoreID: id}, nil
}

func (m *CoreStateMachine) setState(id int, state CoreState) {
	m.cores[id].State = state
	m.offlineOrder = slices.DeleteFunc(m.offlineOrder, func(v int) bool { return v == id })
	if state == CoreOffline {
		m.offlineOrder = append(m.offlineOrder, id)
		m.cores[id].Frequency = 0
	}
}
