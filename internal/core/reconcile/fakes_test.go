package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/melih/harbormaster/internal/core/domain"
)

const (
	digestNginx125 = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
	digestNginx124 = "sha256:2222222222222222222222222222222222222222222222222222222222222222"
	digestRedis    = "sha256:3333333333333333333333333333333333333333333333333333333333333333"
)

var errNotFound = errors.New("no such container")

// fakeRuntime keeps containers and images in memory and records every call.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*domain.ObservedContainer
	local      map[string]string
	remote     map[string]string
	calls      []string

	pingErr   error
	pullFails map[string]int
	pullErr   map[string]error
	createErr map[string]error
	startErr  map[string]error
	stopErr   map[string]error
	loginErr  map[string]error
	nextID    int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: map[string]*domain.ObservedContainer{},
		local:      map[string]string{},
		remote: map[string]string{
			"nginx:1.25": digestNginx125,
			"nginx:1.24": digestNginx124,
			"redis:7":    digestRedis,
		},
		pullFails: map[string]int{},
		pullErr:   map[string]error{},
		createErr: map[string]error{},
		startErr:  map[string]error{},
		stopErr:   map[string]error{},
		loginErr:  map[string]error{},
	}
}

// withContainer registers an existing container created from ref.
func (f *fakeRuntime) withContainer(name, ref string, running bool, env map[string]string) *fakeRuntime {
	f.local[ref] = f.remote[ref]
	f.nextID++
	f.containers[name] = &domain.ObservedContainer{
		ID:          fmt.Sprintf("c%04d", f.nextID),
		Name:        name,
		Image:       ref,
		ImageID:     f.remote[ref],
		Environment: env,
		Labels:      map[string]string{},
		Running:     running,
	}
	return f
}

func (f *fakeRuntime) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// mutations returns the calls that change runtime state.
func (f *fakeRuntime) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		switch strings.Fields(c)[0] {
		case "ping", "list", "digest":
			continue
		}
		out = append(out, c)
	}
	return out
}

func (f *fakeRuntime) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ping")
	return f.pingErr
}

func (f *fakeRuntime) List(_ context.Context, names []string) ([]domain.ObservedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list %s", strings.Join(names, ","))
	var out []domain.ObservedContainer
	for _, n := range names {
		if c, ok := f.containers[n]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeRuntime) ImageDigest(_ context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("digest %s", ref)
	return f.local[ref], nil
}

func (f *fakeRuntime) Pull(_ context.Context, ref string, auth *domain.Registry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", ref)
	if err := f.pullErr[ref]; err != nil {
		return err
	}
	if f.pullFails[ref] > 0 {
		f.pullFails[ref]--
		return errors.New("connection reset by peer")
	}
	d, ok := f.remote[ref]
	if !ok {
		return fmt.Errorf("manifest for %s not found", ref)
	}
	f.local[ref] = d
	return nil
}

func (f *fakeRuntime) Login(_ context.Context, reg domain.Registry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("login %s", reg.Host)
	return f.loginErr[reg.Host]
}

func (f *fakeRuntime) Create(_ context.Context, spec domain.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s", spec.Name)
	if err := f.createErr[spec.Name]; err != nil {
		return "", err
	}
	if _, exists := f.containers[spec.Name]; exists {
		return "", fmt.Errorf("conflict: container %s already exists", spec.Name)
	}
	f.nextID++
	env := map[string]string{"PATH": "/usr/local/bin:/usr/bin"}
	for k, v := range spec.Environment {
		env[k] = v
	}
	labels := map[string]string{}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	c := &domain.ObservedContainer{
		ID:          fmt.Sprintf("c%04d", f.nextID),
		Name:        spec.Name,
		Image:       spec.Image,
		ImageID:     f.local[spec.Image],
		Environment: env,
		Labels:      labels,
	}
	f.containers[spec.Name] = c
	return c.ID, nil
}

func (f *fakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s", name)
	if err := f.startErr[name]; err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return errNotFound
	}
	c.Running = true
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", name)
	if err := f.stopErr[name]; err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return errNotFound
	}
	c.Running = false
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s", name)
	if _, ok := f.containers[name]; !ok {
		return errNotFound
	}
	delete(f.containers, name)
	return nil
}

// fakeProvisioner keeps rendered files in memory and reports a change only
// when the content differs.
type fakeProvisioner struct {
	dirs    map[string]domain.Ownership
	files   map[string]string
	pending map[string][]domain.Field
	err     error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		dirs:    map[string]domain.Ownership{},
		files:   map[string]string{},
		pending: map[string][]domain.Field{},
	}
}

func (p *fakeProvisioner) Pending(container string) ([]domain.Field, error) {
	return p.pending[container], nil
}

func (p *fakeProvisioner) MarkPending(container string, fields []domain.Field) error {
	p.pending[container] = fields
	return nil
}

func (p *fakeProvisioner) ClearPending(container string) error {
	delete(p.pending, container)
	return nil
}

func (p *fakeProvisioner) EnsureDirectory(path string, own domain.Ownership) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	_, existed := p.dirs[path]
	p.dirs[path] = own
	return !existed, nil
}

func (p *fakeProvisioner) sync(path string, kv map[string]string, sep string) bool {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + sep + kv[k] + "\n")
	}
	changed := p.files[path] != b.String()
	p.files[path] = b.String()
	return changed
}

func (p *fakeProvisioner) SyncEnvironment(container string, env map[string]string, _ domain.Ownership) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.sync(container+"/container.env", env, "="), nil
}

func (p *fakeProvisioner) SyncProperties(container, file string, props map[string]string, _ domain.Ownership) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.sync(container+"/"+file, props, ": "), nil
}

func (p *fakeProvisioner) SyncConfigFiles(container string, files []domain.ConfigFile, _ domain.Ownership) (bool, error) {
	changed := false
	for _, cf := range files {
		kv := map[string]string{}
		for k, v := range cf.Data {
			kv[k] = fmt.Sprint(v)
		}
		if p.sync(container+"/"+cf.Name, kv, " = ") {
			changed = true
		}
	}
	return changed, nil
}

type fakeFacts struct {
	events  *[]string
	written []domain.Fact
	cleaned int
	current *domain.Fact
	readErr error
}

func (f *fakeFacts) Write(_ context.Context, fact domain.Fact) error {
	f.written = append(f.written, fact)
	f.current = &fact
	if f.events != nil {
		*f.events = append(*f.events, "fact write")
	}
	return nil
}

func (f *fakeFacts) Read(context.Context) (domain.Fact, bool, error) {
	if f.readErr != nil {
		return domain.Fact{}, false, f.readErr
	}
	if f.current == nil {
		return domain.Fact{}, false, nil
	}
	return *f.current, true, nil
}

func (f *fakeFacts) Clean(context.Context) error {
	f.cleaned++
	f.current = nil
	if f.events != nil {
		*f.events = append(*f.events, "fact clean")
	}
	return nil
}

func (f *fakeFacts) Path() string { return "/tmp/update_container.fact" }

type fakeHooks struct {
	events *[]string
	err    map[string]error
}

func (h *fakeHooks) Run(_ context.Context, phase string, commands []string) error {
	if h.events != nil {
		*h.events = append(*h.events, "hooks "+phase+" "+strings.Join(commands, ";"))
	}
	return h.err[phase]
}

type fakeObserver struct {
	reports []*domain.RunReport
	errs    []error
}

func (o *fakeObserver) ObserveRun(r *domain.RunReport, err error) {
	o.reports = append(o.reports, r)
	o.errs = append(o.errs, err)
}
