package reconcile

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/logging"
)

// Differ compares desired against observed state.
type Differ struct {
	logger *zap.Logger
}

func NewDiffer() *Differ {
	return &Differ{logger: logging.ComponentLogger("differ")}
}

// Compute diffs every spec against the observation, keeping declaration
// order.
func (d *Differ) Compute(specs []domain.ContainerSpec, obs *Observation) []domain.Diff {
	out := make([]domain.Diff, 0, len(specs))
	for _, s := range specs {
		var observed *domain.ObservedContainer
		if o, ok := obs.Containers[s.Name]; ok {
			observed = &o
		}
		digest := obs.Digests[s.Image]
		diff := d.Diff(s, observed, digest)
		d.logger.Debug("computed diff",
			zap.String("container", s.Name),
			zap.String("action", string(diff.Action)),
			zap.Any("drift", diff.Fields()),
			zap.Bool("digest_mismatch", diff.DigestMismatch),
		)
		out = append(out, diff)
	}
	return out
}

// Diff computes the action for one container. digest is the local digest of
// the desired image, "" when the image is not present locally.
func (d *Differ) Diff(spec domain.ContainerSpec, observed *domain.ObservedContainer, digest string) domain.Diff {
	diff := domain.Diff{
		Spec:         spec,
		Observed:     observed,
		ImagePresent: digest != "",
	}

	if observed == nil {
		if spec.State.Exists() {
			diff.Action = domain.ActionCreate
		} else {
			diff.Action = domain.ActionUnchanged
		}
		return diff
	}
	if !spec.State.Exists() {
		diff.Action = domain.ActionRemove
		return diff
	}

	diff.Drifts = drifts(spec, observed)
	// A stale or unknown image always counts, whatever the image policy.
	diff.DigestMismatch = digest == "" || digest != observed.ImageID

	switch {
	case spec.State == domain.StateOnlyPresent:
		diff.Action = domain.ActionUnchanged
	case len(diff.Drifts) > 0 || diff.DigestMismatch:
		diff.Action = domain.ActionRecreate
	default:
		diff.Action = lifecycle(spec.State, observed.Running)
	}
	return diff
}

// Refine escalates a diff after the provisioner reported changed files for
// the given fields. Only strict fields count, and only_present containers are
// never recreated.
func (d *Differ) Refine(diff domain.Diff, changed []domain.Field) domain.Diff {
	if diff.Spec.State == domain.StateOnlyPresent || diff.Observed == nil {
		return diff
	}
	switch diff.Action {
	case domain.ActionUnchanged, domain.ActionStart, domain.ActionStop:
	default:
		return diff
	}

	for _, f := range changed {
		if !diff.Spec.Comparisons.Strict(f) {
			continue
		}
		diff.Drifts = append(diff.Drifts, domain.Drift{Field: f, Reason: "provisioned file changed"})
	}
	if len(diff.Drifts) > 0 {
		diff.Action = domain.ActionRecreate
	}
	return diff
}

func lifecycle(state domain.State, running bool) domain.Action {
	switch {
	case state == domain.StateStarted && !running:
		return domain.ActionStart
	case state == domain.StateStopped && running:
		return domain.ActionStop
	}
	return domain.ActionUnchanged
}

func drifts(spec domain.ContainerSpec, observed *domain.ObservedContainer) []domain.Drift {
	var out []domain.Drift
	cmps := spec.Comparisons

	if cmps.Strict(domain.FieldImage) {
		have, err := normalizeImage(observed.Image)
		if err != nil {
			have = observed.Image
		}
		if have != spec.Image {
			out = append(out, domain.Drift{
				Field:  domain.FieldImage,
				Reason: fmt.Sprintf("image %s, want %s", observed.Image, spec.Image),
			})
		}
	}
	if cmps.Strict(domain.FieldEnvironment) {
		if reason, ok := subset(spec.Environment, observed.Environment); !ok {
			out = append(out, domain.Drift{Field: domain.FieldEnvironment, Reason: reason})
		}
	}
	if cmps.Strict(domain.FieldLabels) {
		if reason, ok := subset(spec.Labels, observed.Labels); !ok {
			out = append(out, domain.Drift{Field: domain.FieldLabels, Reason: reason})
		}
	}
	return out
}

// subset reports whether every wanted key is present in have with the same
// value. Extra keys in have are fine: images contribute their own
// environment and labels.
func subset(want, have map[string]string) (string, bool) {
	projected := make(map[string]string, len(want))
	for k := range want {
		if v, ok := have[k]; ok {
			projected[k] = v
		}
	}
	if len(want) == 0 {
		return "", true
	}
	if diff := cmp.Diff(want, projected); diff != "" {
		return diff, false
	}
	return "", true
}
