package domain

import "fmt"

// State is the lifecycle intent of a declared container.
type State string

const (
	StateStarted     State = "started"
	StateStopped     State = "stopped"
	StatePresent     State = "present"
	StateAbsent      State = "absent"
	StateOnlyPresent State = "only_present"
)

// ParseState validates a declared state. An empty string yields the default.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "":
		return StateStarted, nil
	case StateStarted, StateStopped, StatePresent, StateAbsent, StateOnlyPresent:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}

// Exists reports whether the state asks for the container to exist.
func (s State) Exists() bool {
	return s != StateAbsent
}

// ContainerSpec is the desired state of one container.
type ContainerSpec struct {
	Name          string            `json:"name"`
	Hostname      string            `json:"hostname,omitempty"`
	Image         string            `json:"image,omitempty"`
	State         State             `json:"state"`
	Command       []string          `json:"command,omitempty"`
	Network       string            `json:"network,omitempty"`
	RestartPolicy string            `json:"restart_policy,omitempty"`
	Ports         []string          `json:"ports,omitempty"`
	Volumes       []Volume          `json:"volumes,omitempty"`
	Mounts        []Mount           `json:"mounts,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	PropertyFiles []PropertyFile    `json:"property_files,omitempty"`
	ConfigFiles   []ConfigFile      `json:"config_files,omitempty"`
	Registries    []Registry        `json:"-" yaml:"-"`
	Comparisons   Comparisons       `json:"comparisons"`
}

// DisplayName is the label used when reporting on the container: the
// hostname if one is declared, the name otherwise.
func (c *ContainerSpec) DisplayName() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.Name
}

// Volume is a parsed `source:target[:mode]` entry together with the custom
// fields of its attribute suffix.
type Volume struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Mode   string `json:"mode,omitempty"`

	Owner    string `json:"owner,omitempty"`
	Group    string `json:"group,omitempty"`
	FileMode string `json:"file_mode,omitempty"`
	Ignore   bool   `json:"ignore,omitempty"`
}

// Bind renders the volume the way the runtime expects it, custom fields
// stripped.
func (v Volume) Bind() string {
	if v.Mode == "" {
		return v.Source + ":" + v.Target
	}
	return v.Source + ":" + v.Target + ":" + v.Mode
}

// MountType is the closed set of mount kinds.
type MountType string

const (
	MountBind   MountType = "bind"
	MountVolume MountType = "volume"
	MountTmpfs  MountType = "tmpfs"
)

// Mount is a structured mount descriptor.
type Mount struct {
	Source         string         `json:"source,omitempty" yaml:"source"`
	Target         string         `json:"target" yaml:"target"`
	Type           MountType      `json:"type" yaml:"type"`
	ReadOnly       bool           `json:"read_only,omitempty" yaml:"read_only"`
	SourceHandling SourceHandling `json:"source_handling,omitempty" yaml:"source_handling"`
}

// SourceHandling tells whether the host side of a bind mount is created and
// with which ownership.
type SourceHandling struct {
	Create bool   `json:"create,omitempty" yaml:"create"`
	Owner  string `json:"owner,omitempty" yaml:"owner"`
	Group  string `json:"group,omitempty" yaml:"group"`
	Mode   string `json:"mode,omitempty" yaml:"mode"`
}

// PropertyFile is an additional properties file provisioned for a container.
type PropertyFile struct {
	Name       string            `json:"name" yaml:"name"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties"`
}

// ConfigFile is a structured document rendered in one of the supported
// formats.
type ConfigFile struct {
	Name string         `json:"name" yaml:"name"`
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data"`
}

// Registry holds the credentials for one registry host.
type Registry struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Username string `json:"username,omitempty" yaml:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"password" mapstructure:"password"`
}

// ObservedContainer is the runtime snapshot of a container, reduced to what
// the differ needs.
type ObservedContainer struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	ImageID     string            `json:"image_id"`
	Environment map[string]string `json:"environment,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Running     bool              `json:"running"`
	Status      string            `json:"status"`
}
