package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/harbormaster/internal/core/domain"
)

func webSpec(state domain.State) domain.ContainerSpec {
	return domain.ContainerSpec{
		Name:        "web",
		Image:       "nginx:1.25",
		State:       state,
		Environment: map[string]string{"MODE": "prod"},
		Labels:      map[string]string{"team": "edge"},
		Comparisons: domain.DefaultComparisons(),
	}
}

func webObserved(running bool) *domain.ObservedContainer {
	return &domain.ObservedContainer{
		ID:          "abc",
		Name:        "web",
		Image:       "nginx:1.25",
		ImageID:     digestNginx125,
		Environment: map[string]string{"MODE": "prod", "PATH": "/usr/bin"},
		Labels:      map[string]string{"team": "edge", "maintainer": "nginx"},
		Running:     running,
	}
}

func TestDiffAbsentContainer(t *testing.T) {
	d := NewDiffer()
	for _, st := range []domain.State{domain.StateStarted, domain.StateStopped, domain.StatePresent, domain.StateOnlyPresent} {
		diff := d.Diff(webSpec(st), nil, "")
		assert.Equal(t, domain.ActionCreate, diff.Action, st)
		assert.False(t, diff.ImagePresent)
	}
	assert.Equal(t, domain.ActionUnchanged, d.Diff(webSpec(domain.StateAbsent), nil, "").Action)
}

func TestDiffRemove(t *testing.T) {
	diff := NewDiffer().Diff(webSpec(domain.StateAbsent), webObserved(true), digestNginx125)
	assert.Equal(t, domain.ActionRemove, diff.Action)
}

func TestDiffMatching(t *testing.T) {
	diff := NewDiffer().Diff(webSpec(domain.StateStarted), webObserved(true), digestNginx125)
	assert.Equal(t, domain.ActionUnchanged, diff.Action)
	assert.Empty(t, diff.Drifts)
	assert.False(t, diff.DigestMismatch)
	assert.True(t, diff.ImagePresent)
}

func TestDiffLifecycle(t *testing.T) {
	d := NewDiffer()
	assert.Equal(t, domain.ActionStart, d.Diff(webSpec(domain.StateStarted), webObserved(false), digestNginx125).Action)
	assert.Equal(t, domain.ActionStop, d.Diff(webSpec(domain.StateStopped), webObserved(true), digestNginx125).Action)
	assert.Equal(t, domain.ActionUnchanged, d.Diff(webSpec(domain.StateStopped), webObserved(false), digestNginx125).Action)
	assert.Equal(t, domain.ActionUnchanged, d.Diff(webSpec(domain.StatePresent), webObserved(false), digestNginx125).Action)
	assert.Equal(t, domain.ActionUnchanged, d.Diff(webSpec(domain.StatePresent), webObserved(true), digestNginx125).Action)
}

func TestDiffStrictDrift(t *testing.T) {
	d := NewDiffer()

	obs := webObserved(true)
	obs.Environment["MODE"] = "dev"
	diff := d.Diff(webSpec(domain.StateStarted), obs, digestNginx125)
	assert.Equal(t, domain.ActionRecreate, diff.Action)
	assert.Equal(t, []domain.Field{domain.FieldEnvironment}, diff.Fields())
	assert.Contains(t, diff.Drifts[0].Reason, "MODE")

	obs = webObserved(true)
	delete(obs.Labels, "team")
	diff = d.Diff(webSpec(domain.StateStarted), obs, digestNginx125)
	assert.Equal(t, domain.ActionRecreate, diff.Action)
	assert.Equal(t, []domain.Field{domain.FieldLabels}, diff.Fields())
}

func TestDiffImageReferenceNormalised(t *testing.T) {
	spec := webSpec(domain.StateStarted)
	spec.Image = "nginx:latest"
	obs := webObserved(true)
	obs.Image = "docker.io/library/nginx"
	diff := NewDiffer().Diff(spec, obs, digestNginx125)
	assert.Empty(t, diff.Drifts)
}

// Varying only a field whose policy is ignore must never change the outcome.
func TestDiffIgnoredFieldNeverChangesOutcome(t *testing.T) {
	d := NewDiffer()
	vary := map[domain.Field]func(o *domain.ObservedContainer){
		domain.FieldImage: func(o *domain.ObservedContainer) {
			// same content under another tag
			o.Image = "nginx:stable"
		},
		domain.FieldEnvironment: func(o *domain.ObservedContainer) {
			o.Environment["MODE"] = "debug"
		},
		domain.FieldLabels: func(o *domain.ObservedContainer) {
			o.Labels = map[string]string{}
		},
	}

	for _, state := range []domain.State{domain.StateStarted, domain.StateStopped, domain.StatePresent, domain.StateOnlyPresent} {
		for _, running := range []bool{true, false} {
			for field, mutate := range vary {
				spec := webSpec(state)
				spec.Comparisons[field] = domain.PolicyIgnore

				base := d.Diff(spec, webObserved(running), digestNginx125)
				obs := webObserved(running)
				mutate(obs)
				varied := d.Diff(spec, obs, digestNginx125)

				assert.Equal(t, base.Action, varied.Action, "state=%s running=%v field=%s", state, running, field)
			}

			spec := webSpec(state)
			spec.Comparisons[domain.FieldProperties] = domain.PolicyIgnore
			base := d.Diff(spec, webObserved(running), digestNginx125)
			refined := d.Refine(base, []domain.Field{domain.FieldProperties})
			assert.Equal(t, base.Action, refined.Action, "state=%s running=%v field=properties", state, running)
		}
	}
}

func TestDiffDigestMismatchForcesRecreate(t *testing.T) {
	d := NewDiffer()
	allIgnored, err := domain.DefaultComparisons().Merge(map[string]string{"*": "ignore"})
	require.NoError(t, err)

	for _, cmps := range []domain.Comparisons{domain.DefaultComparisons(), allIgnored} {
		for _, state := range []domain.State{domain.StateStarted, domain.StateStopped, domain.StatePresent} {
			spec := webSpec(state)
			spec.Comparisons = cmps

			// image was updated locally, the container still runs the old one
			diff := d.Diff(spec, webObserved(true), digestNginx124)
			assert.Equal(t, domain.ActionRecreate, diff.Action)
			assert.True(t, diff.DigestMismatch)
			assert.True(t, diff.ImagePresent)

			// desired image not present locally at all
			diff = d.Diff(spec, webObserved(true), "")
			assert.Equal(t, domain.ActionRecreate, diff.Action)
			assert.True(t, diff.DigestMismatch)
			assert.False(t, diff.ImagePresent)
		}
	}
}

func TestDiffOnlyPresent(t *testing.T) {
	d := NewDiffer()
	spec := webSpec(domain.StateOnlyPresent)

	assert.Equal(t, domain.ActionCreate, d.Diff(spec, nil, "").Action)

	obs := webObserved(false)
	obs.Image = "nginx:1.24"
	obs.ImageID = digestNginx124
	obs.Environment = map[string]string{}
	obs.Labels = map[string]string{}
	diff := d.Diff(spec, obs, digestNginx125)
	assert.Equal(t, domain.ActionUnchanged, diff.Action)
	assert.Len(t, diff.Drifts, 3)
	assert.True(t, diff.DigestMismatch)

	refined := d.Refine(diff, []domain.Field{domain.FieldEnvironment, domain.FieldProperties})
	assert.Equal(t, domain.ActionUnchanged, refined.Action)
}

func TestRefineEscalatesOnStrictFileChange(t *testing.T) {
	d := NewDiffer()

	base := d.Diff(webSpec(domain.StateStarted), webObserved(true), digestNginx125)
	require.Equal(t, domain.ActionUnchanged, base.Action)

	refined := d.Refine(base, []domain.Field{domain.FieldProperties})
	assert.Equal(t, domain.ActionRecreate, refined.Action)
	assert.Equal(t, []domain.Field{domain.FieldProperties}, refined.Fields())

	start := d.Diff(webSpec(domain.StateStarted), webObserved(false), digestNginx125)
	require.Equal(t, domain.ActionStart, start.Action)
	assert.Equal(t, domain.ActionRecreate, d.Refine(start, []domain.Field{domain.FieldEnvironment}).Action)

	assert.Equal(t, domain.ActionUnchanged, d.Refine(base, nil).Action)

	created := d.Diff(webSpec(domain.StateStarted), nil, "")
	assert.Equal(t, domain.ActionCreate, d.Refine(created, []domain.Field{domain.FieldEnvironment}).Action)
}

func TestComputeKeepsOrder(t *testing.T) {
	specs := []domain.ContainerSpec{webSpec(domain.StateStarted), {Name: "db", State: domain.StateAbsent, Comparisons: domain.DefaultComparisons()}}
	obs := &Observation{
		Containers: map[string]domain.ObservedContainer{"web": *webObserved(true)},
		Digests:    map[string]string{"nginx:1.25": digestNginx125},
	}
	diffs := NewDiffer().Compute(specs, obs)
	require.Len(t, diffs, 2)
	assert.Equal(t, "web", diffs[0].Name())
	assert.Equal(t, domain.ActionUnchanged, diffs[0].Action)
	assert.Equal(t, "db", diffs[1].Name())
	assert.Equal(t, domain.ActionUnchanged, diffs[1].Action)
}
