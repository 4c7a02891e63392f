package reconcile

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/distribution/reference"

	"github.com/melih/harbormaster/internal/core/domain"
)

// Filter narrows the diffs to the working set. The rest is returned
// separately so it can be reported as skipped.
func Filter(policy domain.FilterPolicy, diffs []domain.Diff) (kept, skipped []domain.Diff, err error) {
	if err := policy.Validate(); err != nil {
		return nil, nil, err
	}
	if policy.By == domain.FilterNone {
		return diffs, nil, nil
	}

	names := mapset.NewThreadUnsafeSet(policy.Names...)
	for _, d := range diffs {
		if names.ContainsAny(selectors(policy.By, d.Spec)...) {
			kept = append(kept, d)
		} else {
			skipped = append(skipped, d)
		}
	}
	return kept, skipped, nil
}

// selectors returns the values a container can be matched by. Images match
// with or without their tag.
func selectors(by domain.FilterBy, spec domain.ContainerSpec) []string {
	switch by {
	case domain.FilterHostname:
		return []string{spec.Hostname}
	case domain.FilterImage:
		out := []string{spec.Image}
		if named, err := reference.ParseNormalizedNamed(spec.Image); err == nil {
			out = append(out, reference.FamiliarName(named))
		}
		return out
	}
	return []string{spec.Name}
}
