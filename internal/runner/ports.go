package runner

import (
	"context"

	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
)

// Port owner sources reported by PortUsage.
const (
	SourceRunner  = "logdy-runner"
	SourceDocker  = "docker"
	SourceUnknown = "unknown"
)

// OwnerLookup attributes bound host ports to something outside this
// process. The docker package implements it for published container ports.
type OwnerLookup interface {
	PortOwners(ctx context.Context) (map[int]string, error)
}

// PortUse describes one bound port in the configured range.
type PortUse struct {
	Port   int    `json:"port"`
	Source string `json:"source"`
	Owner  string `json:"owner,omitempty"`
}

// PortUsage reports every bound port in the configured range together with
// its owner when known. Owner lookup failures are logged and the affected
// ports reported as unknown.
func (r *Runner) PortUsage(ctx context.Context, lookup OwnerLookup) (model.PortRange, []PortUse) {
	rng := r.Settings().PortRange

	ours := make(map[int]string)
	for _, inst := range r.List() {
		ours[inst.Port] = inst.Key
	}

	var external map[int]string
	if lookup != nil {
		owners, err := lookup.PortOwners(ctx)
		if err != nil {
			r.logger.Debug("port owner lookup failed", logging.Event("port_owner_lookup"), logging.Error(err))
		} else {
			external = owners
		}
	}

	var uses []PortUse
	for p := rng.Start; p <= rng.End; p++ {
		if r.prober.IsPortAvailable(p) {
			continue
		}
		use := PortUse{Port: p, Source: SourceUnknown}
		if key, ok := ours[p]; ok {
			use.Source, use.Owner = SourceRunner, key
		} else if owner, ok := external[p]; ok {
			use.Source, use.Owner = SourceDocker, owner
		}
		uses = append(uses, use)
	}
	return rng, uses
}
