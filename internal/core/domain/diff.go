package domain

// Action is what the applier has to do for one container.
type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionCreate    Action = "needs_create"
	ActionRecreate  Action = "needs_recreate"
	ActionRemove    Action = "needs_remove"
	ActionStart     Action = "needs_start"
	ActionStop      Action = "needs_stop"
)

// Mutates reports whether carrying out the action changes runtime state.
func (a Action) Mutates() bool {
	return a != ActionUnchanged && a != ""
}

// NeedsImage reports whether the action ends with a container being created.
func (a Action) NeedsImage() bool {
	return a == ActionCreate || a == ActionRecreate
}

// Drift is one strict field that differs between desired and observed.
type Drift struct {
	Field  Field  `json:"field"`
	Reason string `json:"reason"`
}

// Diff is the outcome of comparing one desired container with its observed
// counterpart.
type Diff struct {
	Spec     ContainerSpec      `json:"spec"`
	Observed *ObservedContainer `json:"observed,omitempty"`
	Action   Action             `json:"action"`
	Drifts   []Drift            `json:"drifts,omitempty"`
	// DigestMismatch is set when the local image digest is unknown or does
	// not match the image the container runs.
	DigestMismatch bool `json:"digest_mismatch,omitempty"`
	// ImagePresent tells whether the desired image is already available
	// locally, so no pull is needed.
	ImagePresent bool `json:"image_present"`
}

// Name is a convenience accessor for the container name.
func (d *Diff) Name() string { return d.Spec.Name }

// Fields returns the drifted fields in detection order.
func (d *Diff) Fields() []Field {
	out := make([]Field, 0, len(d.Drifts))
	for _, dr := range d.Drifts {
		out = append(out, dr.Field)
	}
	return out
}
