package volume

import (
	"errors"
	"testing"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlain(t *testing.T) {
	v, err := Parse("/srv/data:/data")
	require.NoError(t, err)
	assert.Equal(t, domain.Volume{Source: "/srv/data", Target: "/data"}, v)
	assert.Equal(t, "/srv/data:/data", v.Bind())

	v, err = Parse("/srv/data:/data:ro")
	require.NoError(t, err)
	assert.Equal(t, "ro", v.Mode)
	assert.Equal(t, "/srv/data:/data:ro", v.Bind())
}

func TestParseCustomFields(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Volume
	}{
		{
			in:   `/tmp/testing5:/var/tmp/testing5|{owner="1001",mode="0700",ignore=True}`,
			want: domain.Volume{Source: "/tmp/testing5", Target: "/var/tmp/testing5", Owner: "1001", FileMode: "0700", Ignore: true},
		},
		{
			in:   `/tmp/testing3:/var/tmp/testing3:rw|{owner="999",group="1000"}`,
			want: domain.Volume{Source: "/tmp/testing3", Target: "/var/tmp/testing3", Mode: "rw", Owner: "999", Group: "1000"},
		},
		{
			in:   `/a:/b|[owner="1", ignore=false]`,
			want: domain.Volume{Source: "/a", Target: "/b", Owner: "1"},
		},
		{
			in:   `/a:/b|owner=app, group='app'`,
			want: domain.Volume{Source: "/a", Target: "/b", Owner: "app", Group: "app"},
		},
		{
			in:   `/a:/b|{ ignore = yes }`,
			want: domain.Volume{Source: "/a", Target: "/b", Ignore: true},
		},
		{
			in:   `/a:/b|{}`,
			want: domain.Volume{Source: "/a", Target: "/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParseIgnoreSpellings(t *testing.T) {
	for _, s := range []string{"True", "true", "TRUE", "yes", "on", "1"} {
		v, err := Parse(`/a:/b|{ignore=` + s + `}`)
		require.NoError(t, err, s)
		assert.True(t, v.Ignore, s)
	}
	for _, s := range []string{"False", "false", "no", "off", "0"} {
		v, err := Parse(`/a:/b|{ignore=` + s + `}`)
		require.NoError(t, err, s)
		assert.False(t, v.Ignore, s)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		in     string
		column int
		msg    string
	}{
		{in: "/only-source", column: 13, msg: "expected source:target"},
		{in: ":/data", column: 1, msg: "empty source"},
		{in: "/a:", column: 4, msg: "empty target"},
		{in: "/a:/b:", column: 7, msg: "empty mode"},
		{in: "/a:/b:ro:x", column: 9, msg: "too many ':' separators"},
		{in: `/a:/b|{owner="1"`, column: 17, msg: `missing '}'`},
		{in: `/a:/b|{colour="red"}`, column: 8, msg: `unknown attribute "colour"`},
		{in: `/a:/b|{owner="1",owner="2"}`, column: 18, msg: `duplicate attribute "owner"`},
		{in: `/a:/b|{owner "1"}`, column: 14, msg: "expected '=' after owner"},
		{in: `/a:/b|{owner="1}`, column: 14, msg: "unterminated quoted value"},
		{in: `/a:/b|{owner=}`, column: 14, msg: "expected value"},
		{in: `/a:/b|{ignore=maybe}`, column: 15, msg: `invalid boolean "maybe"`},
		{in: `/a:/b|{owner=1} x`, column: 17, msg: "unexpected trailing input"},
		{in: `/a:/b|`, column: 7, msg: "empty attribute list"},
		{in: `/a:/b|{owner=1;group=2}`, column: 15, msg: "unexpected"},
		{in: `/a:/b|{mode="99z"}`, column: 13, msg: `invalid mode "99z"`},
		{in: `/a:/b|{owner=1,mode=17777}`, column: 21, msg: `invalid mode "17777"`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrParse))

			var pe *domain.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.in, pe.Input)
			assert.Equal(t, tt.column, pe.Column)
			assert.Contains(t, pe.Msg, tt.msg)
		})
	}
}

func TestManaged(t *testing.T) {
	assert.True(t, Managed(domain.Volume{Source: "/srv/app", Target: "/app"}))
	assert.False(t, Managed(domain.Volume{Source: "/srv/app", Target: "/app", Ignore: true}))
	assert.False(t, Managed(domain.Volume{Source: "appdata", Target: "/app"}))
	assert.False(t, Managed(domain.Volume{Source: "/var/run/docker.sock", Target: "/var/run/docker.sock"}))
	assert.False(t, Managed(domain.Volume{Source: "/etc/nginx/nginx.conf", Target: "/etc/nginx/nginx.conf"}))
	assert.False(t, Managed(domain.Volume{Source: "/dev/snd", Target: "/dev/snd"}))
	assert.False(t, Managed(domain.Volume{Source: "/run/user", Target: "/run/user"}))
	assert.True(t, Managed(domain.Volume{Source: "/runtime", Target: "/runtime"}))
}

func TestOwnershipFallsBackToDefaults(t *testing.T) {
	def := domain.Ownership{Owner: "root", Group: "root", Mode: "0755"}
	got := Ownership(domain.Volume{Owner: "1001", FileMode: "0700"}, def)
	assert.Equal(t, domain.Ownership{Owner: "1001", Group: "root", Mode: "0700"}, got)
}
