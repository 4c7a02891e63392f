package reconcile

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	dockernames "github.com/docker/docker/daemon/names"
	"github.com/mattn/go-shellwords"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/volume"
)

// RawContainer is one entry of the declared container list as written by the
// operator, before validation and defaulting.
type RawContainer struct {
	Name          string                `yaml:"name"`
	Hostname      string                `yaml:"hostname"`
	Image         string                `yaml:"image"`
	State         string                `yaml:"state"`
	Command       CommandLine           `yaml:"command"`
	Network       string                `yaml:"network"`
	RestartPolicy string                `yaml:"restart_policy"`
	Ports         []string              `yaml:"ports"`
	Volumes       []string              `yaml:"volumes"`
	Mounts        []domain.Mount        `yaml:"mounts"`
	Environment   map[string]string     `yaml:"environment"`
	Labels        map[string]string     `yaml:"labels"`
	Properties    map[string]string     `yaml:"properties"`
	PropertyFiles []domain.PropertyFile `yaml:"property_files"`
	ConfigFiles   []domain.ConfigFile   `yaml:"config_files"`
	Registries    []domain.Registry     `yaml:"registries"`
	Comparisons   map[string]string     `yaml:"comparisons"`
}

// CommandLine accepts either a YAML sequence or a single shell-style string.
type CommandLine []string

func (c *CommandLine) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		args, err := shellwords.Parse(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: command: %w", n.Line, err)
		}
		*c = args
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := n.Decode(&args); err != nil {
			return err
		}
		*c = args
		return nil
	}
	return fmt.Errorf("line %d: command must be a string or a list", n.Line)
}

var restartPolicies = map[string]bool{
	"":               true,
	"no":             true,
	"always":         true,
	"on-failure":     true,
	"unless-stopped": true,
}

// validName is the container name pattern the Docker daemon enforces. Names
// also become directories below the env directory, so nothing else passes.
var validName = regexp.MustCompile("^" + dockernames.RestrictedNameChars + "+$")

var configTypes = map[string]bool{"yaml": true, "json": true, "toml": true, "ini": true}

// Loader turns the declared container list into validated ContainerSpecs.
type Loader struct {
	comparisons domain.Comparisons
	registries  []domain.Registry
}

// NewLoader builds a loader with the global comparison policy and registry
// defaults.
func NewLoader(comparisons domain.Comparisons, registries []domain.Registry) *Loader {
	if comparisons == nil {
		comparisons = domain.DefaultComparisons()
	}
	return &Loader{comparisons: comparisons, registries: registries}
}

// Decode strictly decodes a container document. Both a bare sequence and a
// mapping with a single "container" key are accepted.
func Decode(doc []byte) ([]RawContainer, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, &domain.ConfigError{Field: "container", Msg: err.Error()}
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var out []RawContainer
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)

	var err error
	if root.Content[0].Kind == yaml.MappingNode {
		var wrapped struct {
			Container []RawContainer `yaml:"container"`
		}
		err = dec.Decode(&wrapped)
		out = wrapped.Container
	} else {
		err = dec.Decode(&out)
	}
	if err != nil && err != io.EOF {
		return nil, &domain.ConfigError{Field: "container", Msg: err.Error()}
	}
	return out, nil
}

// Parse decodes and loads a container document in one go.
func (l *Loader) Parse(doc []byte) ([]domain.ContainerSpec, error) {
	raw, err := Decode(doc)
	if err != nil {
		return nil, err
	}
	return l.Load(raw)
}

// Load validates raw entries and applies defaults. Every problem found is
// reported; the returned error combines them with multierr.
func (l *Loader) Load(raw []RawContainer) ([]domain.ContainerSpec, error) {
	var errs error
	seen := make(map[string]int, len(raw))
	specs := make([]domain.ContainerSpec, 0, len(raw))

	for i, rc := range raw {
		if rc.Name == "" {
			errs = multierr.Append(errs, domain.NewConfigError("", fmt.Sprintf("container[%d].name", i), "name is required"))
			continue
		}
		if !validName.MatchString(rc.Name) {
			errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "name",
				"invalid name, must match %s", validName.String()))
			continue
		}
		if prev, dup := seen[rc.Name]; dup {
			errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "name",
				"duplicate name, first declared at container[%d]", prev))
			continue
		}
		seen[rc.Name] = i

		spec, err := l.load(rc)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if errs != nil {
		return nil, errs
	}
	return specs, nil
}

func (l *Loader) load(rc RawContainer) (domain.ContainerSpec, error) {
	var errs error
	spec := domain.ContainerSpec{
		Name:          rc.Name,
		Hostname:      rc.Hostname,
		Command:       rc.Command,
		Network:       rc.Network,
		RestartPolicy: rc.RestartPolicy,
		Ports:         rc.Ports,
		Mounts:        rc.Mounts,
		Environment:   rc.Environment,
		Labels:        rc.Labels,
		Properties:    rc.Properties,
		PropertyFiles: rc.PropertyFiles,
		ConfigFiles:   rc.ConfigFiles,
	}

	state, err := domain.ParseState(rc.State)
	if err != nil {
		errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "state", "%v", err))
	}
	spec.State = state

	switch {
	case rc.Image == "" && state != domain.StateAbsent:
		errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "image", "image is required"))
	case rc.Image != "":
		img, err := normalizeImage(rc.Image)
		if err != nil {
			errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "image", "%v", err))
		}
		spec.Image = img
	}

	if !restartPolicies[rc.RestartPolicy] {
		errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "restart_policy", "unknown restart policy %q", rc.RestartPolicy))
	}

	for i, s := range rc.Volumes {
		v, err := volume.Parse(s)
		if err != nil {
			if pe, ok := err.(*domain.ParseError); ok {
				pe.Container, pe.Field, pe.Index = rc.Name, "volumes", i
			}
			errs = multierr.Append(errs, err)
			continue
		}
		spec.Volumes = append(spec.Volumes, v)
	}

	errs = multierr.Append(errs, validateMounts(rc.Name, rc.Mounts))
	errs = multierr.Append(errs, validateFiles(rc.Name, rc.PropertyFiles, rc.ConfigFiles))

	cmp, err := l.comparisons.Merge(rc.Comparisons)
	if err != nil {
		errs = multierr.Append(errs, domain.NewConfigError(rc.Name, "comparisons", "%v", err))
	}
	spec.Comparisons = cmp

	regs, err := l.combineRegistries(rc.Name, rc.Registries)
	errs = multierr.Append(errs, err)
	spec.Registries = regs

	return spec, errs
}

// normalizeImage validates ref and adds the implicit latest tag, keeping the
// familiar short form the operator wrote.
func normalizeImage(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", err
	}
	return reference.FamiliarString(reference.TagNameOnly(named)), nil
}

func validateMounts(container string, mounts []domain.Mount) error {
	var errs error
	for i, m := range mounts {
		field := fmt.Sprintf("mounts[%d]", i)
		var problems []string
		if m.Target == "" {
			problems = append(problems, "missing target")
		}
		switch m.Type {
		case "":
			problems = append(problems, "missing type")
		case domain.MountBind, domain.MountVolume, domain.MountTmpfs:
		default:
			problems = append(problems, fmt.Sprintf("wrong type %q", m.Type))
		}
		if m.Source == "" && m.Type != domain.MountTmpfs {
			problems = append(problems, "missing source")
		}
		if len(problems) > 0 {
			errs = multierr.Append(errs, domain.NewConfigError(container, field, "%s", strings.Join(problems, ", ")))
		}
		own := domain.Ownership{Mode: m.SourceHandling.Mode}
		if _, err := own.FileMode(0); err != nil {
			errs = multierr.Append(errs, domain.NewConfigError(container, field+".source_handling.mode", "%v", err))
		}
	}
	return errs
}

func validateFiles(container string, props []domain.PropertyFile, configs []domain.ConfigFile) error {
	var errs error
	for i, pf := range props {
		if err := fileName(pf.Name); err != nil {
			errs = multierr.Append(errs, domain.NewConfigError(container, fmt.Sprintf("property_files[%d].name", i), "%v", err))
		}
	}
	for i := range configs {
		cf := &configs[i]
		field := fmt.Sprintf("config_files[%d]", i)
		if err := fileName(cf.Name); err != nil {
			errs = multierr.Append(errs, domain.NewConfigError(container, field+".name", "%v", err))
			continue
		}
		if cf.Type == "" {
			cf.Type = strings.TrimPrefix(path.Ext(cf.Name), ".")
			if cf.Type == "yml" {
				cf.Type = "yaml"
			}
		}
		if !configTypes[cf.Type] {
			errs = multierr.Append(errs, domain.NewConfigError(container, field+".type", "unsupported config type %q", cf.Type))
		}
	}
	return errs
}

// fileName accepts plain file names only. Generated files live directly in
// the container's env directory.
func fileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name is required")
	case strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%q must be a plain file name not starting with a dot", name)
	}
	return nil
}

// combineRegistries merges each declared registry over the first global
// default and drops empty values. Containers without their own registries
// inherit the global list.
func (l *Loader) combineRegistries(container string, declared []domain.Registry) ([]domain.Registry, error) {
	if len(declared) == 0 {
		out := make([]domain.Registry, 0, len(l.registries))
		for _, r := range l.registries {
			if r.Host != "" {
				out = append(out, r)
			}
		}
		return out, nil
	}

	var def domain.Registry
	if len(l.registries) > 0 {
		def = l.registries[0]
	}
	var errs error
	out := make([]domain.Registry, 0, len(declared))
	for i, r := range declared {
		merged := def
		if r.Host != "" {
			merged.Host = r.Host
		}
		if r.Username != "" {
			merged.Username = r.Username
		}
		if r.Password != "" {
			merged.Password = r.Password
		}
		if merged.Host == "" {
			errs = multierr.Append(errs, domain.NewConfigError(container, fmt.Sprintf("registries[%d].host", i), "host is required"))
			continue
		}
		out = append(out, merged)
	}
	return out, errs
}
