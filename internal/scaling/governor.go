package scaling

import (
	"github.com/go-logr/logr"
	"k8s.io/utils/cpuset"
)

// GovernorController applies one frequency governor machine-wide. The
// governor is written to every online core, not only the core that moved.
type GovernorController struct {
	control CPUControl
	log     logr.Logger
}

func NewGovernorController(control CPUControl, log logr.Logger) *GovernorController {
	return &GovernorController{
		control: control,
		log:     log,
	}
}

// Apply writes governor to every core in cores and returns the number of
// cores updated. A failing core is logged and skipped.
func (g *GovernorController) Apply(governor string, cores cpuset.CPUSet) int {
	applied := 0
	for _, id := range cores.List() {
		if err := g.control.SetGovernor(id, governor); err != nil {
			g.log.Error(err, "failed to apply governor, skipping core", "core", id, "governor", governor)
			continue
		}
		applied++
	}

	g.log.V(4).Info("governor applied", "governor", governor, "cores", applied, "requested", cores.Size())

	return applied
}
