// Package config builds the immutable run configuration from defaults, an
// optional YAML file, HARBORMASTER_* environment variables and flags.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/melih/harbormaster/internal/core/domain"
)

// EnvPrefix prefixes every environment override, e.g.
// HARBORMASTER_CONTAINER_FACT_FILE.
const EnvPrefix = "HARBORMASTER"

type GitSource struct {
	URL      string `mapstructure:"url"`
	Ref      string `mapstructure:"ref"`
	Path     string `mapstructure:"path"`
	Depth    int    `mapstructure:"depth"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Serve struct {
	Address  string        `mapstructure:"address"`
	Interval time.Duration `mapstructure:"interval"`
}

// Config is built once per process and passed down by value.
type Config struct {
	// Document is the container list as a standalone YAML document.
	Document    []byte
	Registries  []domain.Registry
	Comparisons domain.Comparisons
	Filter      domain.FilterPolicy
	Fail        domain.FailPolicy
	Reporting   domain.ReportingPolicy
	CleanFact   bool
	FactFile    string
	EnvDir      string
	Files       domain.Ownership
	Directories domain.Ownership
	Pull        domain.PullPolicy
	StopTimeout time.Duration
	TaskTimeout time.Duration
	PreTasks    []string
	PostTasks   []string
	Git         GitSource
	Log         Log
	Serve       Serve
}

// New returns a viper instance with defaults and the environment overlay.
func New() *viper.Viper {
	v := viper.New()
	InitDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and builds the Config.
func Load(v *viper.Viper, path string) (Config, error) {
	var raw []byte
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return Config{}, &domain.ConfigError{Field: path, Msg: err.Error()}
		}
	}
	return Build(v, raw)
}

// Build assembles the Config from v. raw is the config file content; the
// container list is taken from it directly so that map keys such as
// environment variable names keep their case.
func Build(v *viper.Viper, raw []byte) (Config, error) {
	cfg := Config{
		Reporting: domain.ReportingPolicy{
			Changes: v.GetBool("container_reporting.changes"),
			Failed:  v.GetBool("container_reporting.failed"),
		},
		Fail:        domain.FailPolicy{ErrorAtLaunch: v.GetBool("container_fail.error_at_launch")},
		CleanFact:   v.GetBool("container_clean_update_fact"),
		FactFile:    v.GetString("container_fact_file"),
		EnvDir:      v.GetString("container_env_directory"),
		Files:       ownership(v, "container_files"),
		Directories: ownership(v, "container_directories"),
		Pull: domain.PullPolicy{
			Retries: v.GetInt("container_pull.retries"),
			Delay:   v.GetDuration("container_pull.delay"),
		},
		StopTimeout: v.GetDuration("container_stop_timeout"),
		TaskTimeout: v.GetDuration("container_task_timeout"),
		PreTasks:    v.GetStringSlice("container_pre_tasks"),
		PostTasks:   v.GetStringSlice("container_post_tasks"),
		Git: GitSource{
			URL:      v.GetString("source.git.url"),
			Ref:      v.GetString("source.git.ref"),
			Path:     v.GetString("source.git.path"),
			Depth:    v.GetInt("source.git.depth"),
			Username: v.GetString("source.git.username"),
			Password: v.GetString("source.git.password"),
		},
		Log: Log{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Serve: Serve{
			Address:  v.GetString("serve.address"),
			Interval: v.GetDuration("serve.interval"),
		},
	}

	// structured blocks go through mapstructure
	var errs error
	unmarshal := func(key string, out any) {
		if err := v.UnmarshalKey(key, out); err != nil {
			errs = multierr.Append(errs, &domain.ConfigError{Field: key, Msg: err.Error()})
		}
	}
	unmarshal("container_registries", &cfg.Registries)
	unmarshal("container_filter", &cfg.Filter)
	if by := v.GetString("container_filter.by"); by != "" {
		cfg.Filter.By = domain.FilterBy(by)
	}

	var comparisons map[string]string
	unmarshal("container_comparisons", &comparisons)
	merged, err := domain.DefaultComparisons().Merge(comparisons)
	if err != nil {
		errs = multierr.Append(errs, &domain.ConfigError{Field: "container_comparisons", Msg: err.Error()})
	}
	cfg.Comparisons = merged

	if err := cfg.Filter.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	for key, o := range map[string]domain.Ownership{"container_files.mode": cfg.Files, "container_directories.mode": cfg.Directories} {
		if _, err := o.FileMode(0); err != nil {
			errs = multierr.Append(errs, &domain.ConfigError{Field: key, Msg: err.Error()})
		}
	}
	if cfg.Pull.Retries < 0 {
		errs = multierr.Append(errs, domain.NewConfigError("", "container_pull.retries", "must not be negative"))
	}

	doc, err := containerDocument(raw)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	cfg.Document = doc

	if errs != nil {
		return Config{}, errs
	}
	return cfg, nil
}

func ownership(v *viper.Viper, key string) domain.Ownership {
	return domain.Ownership{
		Owner: v.GetString(key + ".owner"),
		Group: v.GetString(key + ".group"),
		Mode:  v.GetString(key + ".mode"),
	}
}

// containerDocument extracts the "container" key of the config file as its
// own YAML document.
func containerDocument(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var root map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, &domain.ConfigError{Field: "container", Msg: err.Error()}
	}
	node, ok := root["container"]
	if !ok {
		return nil, nil
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode container list")
	}
	return out, nil
}

// Redacted renders the effective settings as JSON with secrets masked.
func Redacted(v *viper.Viper) string {
	// work on a copy, AllSettings shares nested values with v
	var settings map[string]any
	data, err := json.Marshal(v.AllSettings())
	if err != nil || json.Unmarshal(data, &settings) != nil {
		return "{}"
	}
	mask := func(m map[string]any, key string) {
		if s, ok := m[key].(string); ok && s != "" {
			m[key] = "[redacted]"
		}
	}
	if regs, ok := settings["container_registries"].([]any); ok {
		for _, r := range regs {
			if m, ok := r.(map[string]any); ok {
				mask(m, "password")
			}
		}
	}
	if src, ok := settings["source"].(map[string]any); ok {
		if git, ok := src["git"].(map[string]any); ok {
			mask(git, "password")
		}
	}
	delete(settings, "container")

	out, _ := json.MarshalIndent(settings, "", "  ")
	return string(out)
}
