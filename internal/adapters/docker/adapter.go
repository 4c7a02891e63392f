package docker

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

var (
	_ ports.ContainerRuntime = (*Adapter)(nil)
	_ ports.LogReader        = (*Adapter)(nil)
)

// ManagedLabel marks containers created by harbormaster.
const ManagedLabel = "io.harbormaster.managed"

// api is the subset of the Docker client the adapter uses.
type api interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, id string, options container.StartOptions) error
	ContainerStop(ctx context.Context, id string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, id string, options container.LogsOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, id string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	RegistryLogin(ctx context.Context, auth registry.AuthConfig) (registry.AuthenticateOKBody, error)
}

// Adapter implements ports.ContainerRuntime using the Docker SDK.
type Adapter struct {
	cli         api
	stopTimeout time.Duration
	logger      *zap.Logger
}

// NewAdapter creates a Docker adapter from the environment (DOCKER_HOST and
// friends).
func NewAdapter(stopTimeout time.Duration) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return newAdapter(cli, stopTimeout), nil
}

func newAdapter(cli api, stopTimeout time.Duration) *Adapter {
	return &Adapter{cli: cli, stopTimeout: stopTimeout, logger: logging.ComponentLogger("docker")}
}

func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// List returns the observed state of the named containers that exist.
func (a *Adapter) List(ctx context.Context, names []string) ([]domain.ObservedContainer, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := filters.NewArgs()
	for _, n := range names {
		args.Add("name", "^/"+n+"$")
	}
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, classify("list containers", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var result []domain.ObservedContainer
	for _, c := range containers {
		name := containerName(c.Names)
		if !wanted[name] {
			continue
		}
		info, err := a.cli.ContainerInspect(ctx, c.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				// removed between list and inspect
				continue
			}
			return nil, classify("inspect "+name, err)
		}
		result = append(result, observedFromInspect(info))
	}
	return result, nil
}

// ImageDigest returns the local image ID for ref, "" when absent.
func (a *Adapter) ImageDigest(ctx context.Context, ref string) (string, error) {
	img, _, err := a.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil
		}
		return "", classify("inspect image "+ref, err)
	}
	d, err := digest.Parse(img.ID)
	if err != nil {
		return "", errors.Wrapf(err, "image %s has malformed id %q", ref, img.ID)
	}
	return d.String(), nil
}

// Pull downloads ref and waits for the pull to complete.
func (a *Adapter) Pull(ctx context.Context, ref string, auth *domain.Registry) error {
	opts := types.ImagePullOptions{}
	if auth != nil && (auth.Username != "" || auth.Password != "") {
		encoded, err := registry.EncodeAuthConfig(authConfig(*auth))
		if err != nil {
			return errors.Wrap(err, "failed to encode registry credentials")
		}
		opts.RegistryAuth = encoded
	}

	reader, err := a.cli.ImagePull(ctx, ref, opts)
	if err != nil {
		return errors.Wrapf(err, "failed to pull image %s", ref)
	}
	defer reader.Close()

	// the stream reports errors inline, after the request itself succeeded
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return errors.Wrapf(err, "failed to pull image %s", ref)
	}
	a.logger.Info("pulled image", zap.String("image", ref))
	return nil
}

func (a *Adapter) Login(ctx context.Context, reg domain.Registry) error {
	resp, err := a.cli.RegistryLogin(ctx, authConfig(reg))
	if err != nil {
		return errors.Wrapf(err, "failed to log in to %s", reg.Host)
	}
	a.logger.Debug("registry login", zap.String("registry", reg.Host), zap.String("status", resp.Status))
	return nil
}

// Create creates the container without starting it.
func (a *Adapter) Create(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	cfg, hostCfg, err := createConfig(spec)
	if err != nil {
		return "", err
	}
	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create container %s", spec.Name)
	}
	for _, w := range resp.Warnings {
		a.logger.Warn("container create warning", zap.String("container", spec.Name), zap.String("warning", w))
	}
	return resp.ID, nil
}

func (a *Adapter) Start(ctx context.Context, name string) error {
	if err := a.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, "failed to start container %s", name)
	}
	return nil
}

// Stop stops a running container, giving it stopTimeout to exit.
func (a *Adapter) Stop(ctx context.Context, name string) error {
	secs := int(a.stopTimeout / time.Second)
	if err := a.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs}); err != nil {
		return errors.Wrapf(err, "failed to stop container %s", name)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, name string) error {
	if err := a.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return errors.Wrapf(err, "failed to remove container %s", name)
	}
	return nil
}

// Logs returns the last lines of a container's output. tail is passed to the
// engine as is ("all" or a number).
func (a *Adapter) Logs(ctx context.Context, name, tail string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       tail,
	}
	rc, err := a.cli.ContainerLogs(ctx, name, options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read logs of %s", name)
	}
	return rc, nil
}

func createConfig(spec domain.ContainerSpec) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "container %s: invalid ports", spec.Name)
	}

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Hostname:     spec.Hostname,
		Env:          envList(spec.Environment),
		Labels:       labels,
		ExposedPorts: exposed,
	}
	if len(spec.Command) > 0 {
		cfg.Cmd = spec.Command
	}

	hostCfg := &container.HostConfig{
		PortBindings:  bindings,
		NetworkMode:   container.NetworkMode(spec.Network),
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
	}
	for _, v := range spec.Volumes {
		hostCfg.Binds = append(hostCfg.Binds, v.Bind())
	}
	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.Type(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return cfg, hostCfg, nil
}

func observedFromInspect(info types.ContainerJSON) domain.ObservedContainer {
	o := domain.ObservedContainer{
		ID:      info.ID,
		Name:    strings.TrimPrefix(info.Name, "/"),
		ImageID: info.Image,
	}
	if info.Config != nil {
		o.Image = info.Config.Image
		o.Environment = envMap(info.Config.Env)
		o.Labels = info.Config.Labels
	}
	if info.ContainerJSONBase != nil && info.State != nil {
		o.Running = info.State.Running
		o.Status = info.State.Status
	}
	return o
}

func authConfig(reg domain.Registry) registry.AuthConfig {
	return registry.AuthConfig{
		Username:      reg.Username,
		Password:      reg.Password,
		ServerAddress: reg.Host,
	}
}

// containerName returns the first name without the leading slash.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func envMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		out[k] = v
	}
	return out
}

// classify marks connection problems as an unavailable runtime.
func classify(op string, err error) error {
	if client.IsErrConnectionFailed(err) {
		return &domain.RuntimeUnavailable{Op: op, Err: err}
	}
	return errors.Wrapf(err, "failed to %s", op)
}
