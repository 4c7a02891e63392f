package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

// Observation is the runtime view of the declared containers: observed
// containers by name and local digests by image reference. A declared name
// missing from Containers is absent.
type Observation struct {
	Containers map[string]domain.ObservedContainer
	Digests    map[string]string
}

// Collector queries the runtime for the current state of declared
// containers.
type Collector struct {
	runtime ports.ContainerRuntime
	logger  *zap.Logger
}

func NewCollector(runtime ports.ContainerRuntime) *Collector {
	return &Collector{runtime: runtime, logger: logging.ComponentLogger("collector")}
}

// Collect observes every spec. Only an unreachable runtime is an error.
func (c *Collector) Collect(ctx context.Context, specs []domain.ContainerSpec) (*Observation, error) {
	if err := c.runtime.Ping(ctx); err != nil {
		return nil, unavailable("ping", err)
	}

	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	observed, err := c.runtime.List(ctx, names)
	if err != nil {
		return nil, unavailable("list", err)
	}

	obs := &Observation{
		Containers: make(map[string]domain.ObservedContainer, len(observed)),
		Digests:    make(map[string]string),
	}
	for _, o := range observed {
		obs.Containers[o.Name] = o
	}

	for _, s := range specs {
		if s.Image == "" || !s.State.Exists() {
			continue
		}
		if _, done := obs.Digests[s.Image]; done {
			continue
		}
		digest, err := c.runtime.ImageDigest(ctx, s.Image)
		if err != nil {
			return nil, unavailable("image inspect", err)
		}
		obs.Digests[s.Image] = digest
	}

	c.logger.Debug("observed containers",
		zap.Int("declared", len(specs)),
		zap.Int("present", len(obs.Containers)),
	)
	return obs, nil
}

func unavailable(op string, err error) error {
	var ru *domain.RuntimeUnavailable
	if errors.As(err, &ru) {
		return err
	}
	return &domain.RuntimeUnavailable{Op: op, Err: err}
}
