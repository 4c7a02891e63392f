package domain

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FilterBy selects which attribute the filter matches against.
type FilterBy string

const (
	FilterNone     FilterBy = ""
	FilterName     FilterBy = "name"
	FilterHostname FilterBy = "hostname"
	FilterImage    FilterBy = "image"
)

// FilterPolicy narrows a run to a subset of the declared containers.
type FilterPolicy struct {
	By    FilterBy `json:"by" mapstructure:"by"`
	Names []string `json:"names" mapstructure:"names"`
}

// Validate rejects unknown selectors.
func (f FilterPolicy) Validate() error {
	switch f.By {
	case FilterNone, FilterName, FilterHostname, FilterImage:
		return nil
	}
	return NewConfigError("", "container_filter.by", "unknown filter %q", string(f.By))
}

// FailPolicy decides whether launch failures abort the run.
type FailPolicy struct {
	ErrorAtLaunch bool `json:"error_at_launch" mapstructure:"error_at_launch"`
}

// ReportingPolicy toggles the run summaries.
type ReportingPolicy struct {
	Changes bool `json:"changes" mapstructure:"changes"`
	Failed  bool `json:"failed" mapstructure:"failed"`
}

// Ownership is the owner, group and mode applied to provisioned paths.
type Ownership struct {
	Owner string `json:"owner" mapstructure:"owner"`
	Group string `json:"group" mapstructure:"group"`
	Mode  string `json:"mode" mapstructure:"mode"`
}

// FileMode parses Mode as an octal permission, falling back to def when
// unset.
func (o Ownership) FileMode(def os.FileMode) (os.FileMode, error) {
	if o.Mode == "" {
		return def, nil
	}
	m, err := strconv.ParseUint(o.Mode, 8, 32)
	if err != nil || m > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q", o.Mode)
	}
	return os.FileMode(m), nil
}

// Or fills empty fields of o from def.
func (o Ownership) Or(def Ownership) Ownership {
	if o.Owner == "" {
		o.Owner = def.Owner
	}
	if o.Group == "" {
		o.Group = def.Group
	}
	if o.Mode == "" {
		o.Mode = def.Mode
	}
	return o
}

// PullPolicy bounds image download retries.
type PullPolicy struct {
	Retries int           `json:"retries" mapstructure:"retries"`
	Delay   time.Duration `json:"delay" mapstructure:"delay"`
}
