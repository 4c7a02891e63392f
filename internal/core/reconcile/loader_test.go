package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/melih/harbormaster/internal/core/domain"
)

func TestLoaderAppliesDefaults(t *testing.T) {
	doc := []byte(`
- name: web
  image: nginx
  environment:
    PORT: 8080
  volumes:
    - /srv/web:/usr/share/nginx/html:ro|{owner="101",ignore=True}
- name: db
  image: postgres:16
  state: stopped
  command: postgres -c "max_connections=200"
  comparisons:
    env: ignore
`)
	specs, err := NewLoader(nil, nil).Parse(doc)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	web := specs[0]
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, "nginx:latest", web.Image)
	assert.Equal(t, domain.StateStarted, web.State)
	assert.Equal(t, "8080", web.Environment["PORT"])
	assert.Equal(t, domain.DefaultComparisons(), web.Comparisons)
	require.Len(t, web.Volumes, 1)
	assert.Equal(t, domain.Volume{Source: "/srv/web", Target: "/usr/share/nginx/html", Mode: "ro", Owner: "101", Ignore: true}, web.Volumes[0])

	db := specs[1]
	assert.Equal(t, domain.StateStopped, db.State)
	assert.Equal(t, []string{"postgres", "-c", "max_connections=200"}, db.Command)
	assert.False(t, db.Comparisons.Strict(domain.FieldEnvironment))
	assert.True(t, db.Comparisons.Strict(domain.FieldImage))
}

func TestLoaderAcceptsWrappedDocument(t *testing.T) {
	specs, err := NewLoader(nil, nil).Parse([]byte("container:\n  - name: web\n    image: nginx:1.25\n"))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "nginx:1.25", specs[0].Image)
}

func TestLoaderEmptyDocument(t *testing.T) {
	specs, err := NewLoader(nil, nil).Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoaderGlobalComparisons(t *testing.T) {
	global, err := domain.DefaultComparisons().Merge(map[string]string{"*": "ignore", "image": "strict"})
	require.NoError(t, err)

	specs, err := NewLoader(global, nil).Load([]RawContainer{
		{Name: "front", Image: "nginx:1.25"},
		{Name: "back", Image: "nginx:1.25", Comparisons: map[string]string{"labels": "strict"}},
	})
	require.NoError(t, err)

	assert.True(t, specs[0].Comparisons.Strict(domain.FieldImage))
	assert.False(t, specs[0].Comparisons.Strict(domain.FieldLabels))
	assert.True(t, specs[1].Comparisons.Strict(domain.FieldLabels))
	assert.False(t, specs[1].Comparisons.Strict(domain.FieldEnvironment))
	// the global policy must not be mutated by per-container overrides
	assert.False(t, global.Strict(domain.FieldLabels))
}

func TestLoaderRejectsUnknownFields(t *testing.T) {
	_, err := NewLoader(nil, nil).Parse([]byte("- name: web\n  image: nginx\n  imagee: typo\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Contains(t, err.Error(), "imagee")
}

func TestLoaderReportsEveryProblem(t *testing.T) {
	_, err := NewLoader(nil, nil).Load([]RawContainer{
		{Image: "nginx"},
		{Name: "web", Image: "nginx"},
		{Name: "web", Image: "nginx"},
		{Name: "bad-state", Image: "nginx", State: "running"},
		{Name: "no-image"},
		{Name: "bad-cmp", Image: "nginx", Comparisons: map[string]string{"ports": "strict"}},
		{Name: "bad-policy", Image: "nginx", Comparisons: map[string]string{"image": "loose"}},
		{Name: "bad-mount", Image: "nginx", Mounts: []domain.Mount{{Target: "/x", Type: "nfs"}}},
		{Name: "bad-restart", Image: "nginx", RestartPolicy: "sometimes"},
	})
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 8)

	var fields []string
	for _, e := range errs {
		var ce *domain.ConfigError
		require.True(t, errors.As(e, &ce), e.Error())
		fields = append(fields, ce.Container+"/"+ce.Field)
	}
	assert.Equal(t, []string{
		"/container[0].name",
		"web/name",
		"bad-state/state",
		"no-image/image",
		"bad-cmp/comparisons",
		"bad-policy/comparisons",
		"bad-mount/mounts[0]",
		"bad-restart/restart_policy",
	}, fields)
	assert.Contains(t, errs[6].Error(), "wrong type")
	assert.Contains(t, errs[6].Error(), "missing source")
}

func TestLoaderAbsentNeedsNoImage(t *testing.T) {
	specs, err := NewLoader(nil, nil).Load([]RawContainer{{Name: "db", State: "absent"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAbsent, specs[0].State)
}

func TestLoaderTmpfsMountNeedsNoSource(t *testing.T) {
	_, err := NewLoader(nil, nil).Load([]RawContainer{
		{Name: "web", Image: "nginx", Mounts: []domain.Mount{{Target: "/tmp", Type: domain.MountTmpfs}}},
	})
	assert.NoError(t, err)
}

func TestLoaderVolumeParseError(t *testing.T) {
	_, err := NewLoader(nil, nil).Load([]RawContainer{
		{Name: "web", Image: "nginx", Volumes: []string{"/a:/b", `/c:/d|{owner="1",colour=red}`}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrParse))

	var pe *domain.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "web", pe.Container)
	assert.Equal(t, "volumes", pe.Field)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, 18, pe.Column)
	assert.Contains(t, pe.Error(), "volumes[1]")
}

func TestLoaderCombinesRegistries(t *testing.T) {
	defaults := []domain.Registry{{Host: "registry.example.com", Username: "ci", Password: "secret"}}

	specs, err := NewLoader(nil, defaults).Load([]RawContainer{
		{Name: "inherits", Image: "registry.example.com/app:1"},
		{Name: "overrides", Image: "registry.example.com/app:1", Registries: []domain.Registry{{Username: "deploy"}}},
		{Name: "other", Image: "ghcr.io/org/app:1", Registries: []domain.Registry{{Host: "ghcr.io", Password: "token"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, defaults, specs[0].Registries)
	assert.Equal(t, []domain.Registry{{Host: "registry.example.com", Username: "deploy", Password: "secret"}}, specs[1].Registries)
	assert.Equal(t, []domain.Registry{{Host: "ghcr.io", Username: "ci", Password: "token"}}, specs[2].Registries)
}

func TestLoaderConfigFileTypes(t *testing.T) {
	specs, err := NewLoader(nil, nil).Load([]RawContainer{
		{Name: "app", Image: "nginx", ConfigFiles: []domain.ConfigFile{
			{Name: "app.yml"},
			{Name: "settings", Type: "toml"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "yaml", specs[0].ConfigFiles[0].Type)
	assert.Equal(t, "toml", specs[0].ConfigFiles[1].Type)

	_, err = NewLoader(nil, nil).Load([]RawContainer{
		{Name: "app", Image: "nginx", ConfigFiles: []domain.ConfigFile{{Name: "app.xml"}}},
	})
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestLoaderRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"../../escaped", "web/db", ".hidden", "x", "web app"} {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader(nil, nil).Load([]RawContainer{{Name: name, Image: "nginx"}})
			require.Error(t, err)

			var ce *domain.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, name, ce.Container)
			assert.Equal(t, "name", ce.Field)
		})
	}

	_, err := NewLoader(nil, nil).Load([]RawContainer{{Name: "web_01.blue-2", Image: "nginx"}})
	assert.NoError(t, err)
}

func TestLoaderRejectsFileNamesWithPaths(t *testing.T) {
	_, err := NewLoader(nil, nil).Load([]RawContainer{{
		Name:          "api",
		Image:         "nginx",
		PropertyFiles: []domain.PropertyFile{{Name: "../escape"}},
		ConfigFiles:   []domain.ConfigFile{{Name: "conf/app.yaml"}, {Name: ".pending", Type: "json"}},
	}})
	require.Error(t, err)

	var fields []string
	for _, e := range multierr.Errors(err) {
		var ce *domain.ConfigError
		require.True(t, errors.As(e, &ce), e.Error())
		fields = append(fields, ce.Field)
	}
	assert.Equal(t, []string{"property_files[0].name", "config_files[0].name", "config_files[1].name"}, fields)
}

func TestLoaderChecksModesBeforeAnythingRuns(t *testing.T) {
	doc := `
- name: web
  image: nginx:1.25
- name: bad
  image: nginx:1.25
  volumes:
    - /srv/bad:/data|{mode="99z"}
  mounts:
    - source: /srv/cache
      target: /cache
      type: bind
      source_handling:
        create: true
        mode: banana
`
	_, err := NewLoader(nil, nil).Parse([]byte(doc))
	require.Error(t, err)

	var pe *domain.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad", pe.Container)
	assert.Equal(t, 0, pe.Index)
	assert.Equal(t, 22, pe.Column)
	assert.Contains(t, pe.Msg, `invalid mode "99z"`)

	var ce *domain.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "bad", ce.Container)
	assert.Equal(t, "mounts[0].source_handling.mode", ce.Field)
}
