package domain

import (
	"sort"
	"time"
)

// Result is the terminal state of one container in a run.
type Result string

const (
	ResultChanged   Result = "changed"
	ResultFailed    Result = "failed"
	ResultSkipped   Result = "skipped"
	ResultUnchanged Result = "unchanged"
)

// Outcome is what happened to one container.
type Outcome struct {
	Container string `json:"container"`
	Display   string `json:"display,omitempty"`
	Action    Action `json:"action"`
	Result    Result `json:"result"`
	Message   string `json:"message,omitempty"`
	Err       error  `json:"-" yaml:"-"`
}

// FactEntry names a container that needs follow-up from post-run hooks.
type FactEntry struct {
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Action   Action `json:"action"`
	Recreate bool   `json:"recreate"`
}

// Fact is the persisted restart-needed marker.
type Fact struct {
	Updated    time.Time   `json:"updated"`
	Containers []FactEntry `json:"containers"`
}

// RunReport aggregates the outcomes of one run. Outcomes keeps declaration
// order.
type RunReport struct {
	ID       string            `json:"id"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Outcomes []Outcome         `json:"outcomes"`
	Changed  []string          `json:"changed"`
	Failed   map[string]string `json:"failed"`
	Skipped  []string          `json:"skipped"`
	Pending  []FactEntry       `json:"pending,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// NewRunReport starts an empty report.
func NewRunReport(started time.Time) *RunReport {
	return &RunReport{
		Started:  started,
		Changed:  []string{},
		Failed:   map[string]string{},
		Skipped:  []string{},
		Outcomes: []Outcome{},
	}
}

// Record appends an outcome and updates the aggregates.
func (r *RunReport) Record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Result {
	case ResultChanged:
		r.Changed = append(r.Changed, o.Container)
	case ResultFailed:
		msg := o.Message
		if o.Err != nil {
			msg = o.Err.Error()
		}
		r.Failed[o.Container] = msg
	case ResultSkipped:
		r.Skipped = append(r.Skipped, o.Container)
	}
}

// Outcome looks up the outcome of a container by name.
func (r *RunReport) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Container == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Labels returns the display label recorded for each of names,
// falling back to the name itself.
func (r *RunReport) Labels(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if o, ok := r.Outcome(n); ok && o.Display != "" {
			out = append(out, o.Display)
			continue
		}
		out = append(out, n)
	}
	return out
}

// HasChanges reports whether any container changed.
func (r *RunReport) HasChanges() bool {
	return len(r.Changed) > 0
}

// FailedNames lists the failed containers in declaration order.
func (r *RunReport) FailedNames() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Result == ResultFailed {
			out = append(out, o.Container)
		}
	}
	return out
}

// SortBy reorders outcomes and aggregates by the given declaration index.
// Unknown names keep their relative order at the end.
func (r *RunReport) SortBy(order map[string]int) {
	idx := func(name string) int {
		if i, ok := order[name]; ok {
			return i
		}
		return len(order)
	}
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		return idx(r.Outcomes[i].Container) < idx(r.Outcomes[j].Container)
	})
	sort.SliceStable(r.Changed, func(i, j int) bool { return idx(r.Changed[i]) < idx(r.Changed[j]) })
	sort.SliceStable(r.Skipped, func(i, j int) bool { return idx(r.Skipped[i]) < idx(r.Skipped[j]) })
	sort.SliceStable(r.Pending, func(i, j int) bool { return idx(r.Pending[i].Name) < idx(r.Pending[j].Name) })
}
