package main

import (
	"encoding/json"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/melih/harbormaster/internal/adapters/docker"
	"github.com/melih/harbormaster/internal/adapters/facts"
	"github.com/melih/harbormaster/internal/adapters/filesystem"
	"github.com/melih/harbormaster/internal/adapters/gitsource"
	"github.com/melih/harbormaster/internal/adapters/hooks"
	"github.com/melih/harbormaster/internal/config"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/core/reconcile"
	"github.com/melih/harbormaster/internal/metrics"
)

type agent struct {
	engine   *reconcile.Engine
	runtime  *docker.Adapter
	registry *prometheus.Registry
}

// newAgent wires the adapters into an engine.
func newAgent(cfg config.Config) (*agent, error) {
	runtime, err := docker.NewAdapter(cfg.StopTimeout)
	if err != nil {
		return nil, err
	}

	var source ports.SourceFetcher = reconcile.StaticSource(cfg.Document)
	if cfg.Git.URL != "" {
		source, err = gitsource.NewFetcher(gitsource.Options{
			URL:      cfg.Git.URL,
			Ref:      cfg.Git.Ref,
			Path:     cfg.Git.Path,
			Depth:    cfg.Git.Depth,
			Username: cfg.Git.Username,
			Password: cfg.Git.Password,
		})
		if err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, err
	}

	engine := reconcile.NewEngine(
		source,
		runtime,
		filesystem.NewProvisioner(cfg.EnvDir, cfg.Directories),
		facts.NewStore(cfg.FactFile, 0),
		hooks.NewRunner(cfg.FactFile, cfg.TaskTimeout),
		recorder,
		reconcile.EngineOptions{
			Comparisons: cfg.Comparisons,
			Registries:  cfg.Registries,
			Filter:      cfg.Filter,
			Applier: reconcile.ApplierOptions{
				Fail:        cfg.Fail,
				Pull:        cfg.Pull,
				Files:       cfg.Files,
				Directories: cfg.Directories,
				PreTasks:    cfg.PreTasks,
			},
			Reporter: reconcile.ReporterOptions{
				Reporting: cfg.Reporting,
				CleanFact: cfg.CleanFact,
				PostTasks: cfg.PostTasks,
			},
		},
	)
	return &agent{engine: engine, runtime: runtime, registry: registry}, nil
}

// render writes v to w in the requested format.
func render(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
