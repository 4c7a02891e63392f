package filesystem

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/melih/harbormaster/internal/core/domain"
)

// Render serialises a config file's data in its declared format.
func Render(cf domain.ConfigFile) ([]byte, error) {
	data := cf.Data
	if data == nil {
		data = map[string]any{}
	}

	switch cf.Type {
	case "yaml", "yml":
		var b bytes.Buffer
		enc := yaml.NewEncoder(&b)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return nil, errors.Wrap(err, "yaml")
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(err, "yaml")
		}
		return b.Bytes(), nil
	case "json":
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "json")
		}
		return append(out, '\n'), nil
	case "toml":
		tree, err := toml.TreeFromMap(data)
		if err != nil {
			return nil, errors.Wrap(err, "toml")
		}
		s, err := tree.ToTomlString()
		if err != nil {
			return nil, errors.Wrap(err, "toml")
		}
		return []byte(s), nil
	case "ini":
		return renderINI(data)
	default:
		return nil, errors.Errorf("unsupported config type %q", cf.Type)
	}
}

// renderINI puts scalar keys in the default section and one level of maps
// into named sections. Deeper nesting has no ini representation.
func renderINI(data map[string]any) ([]byte, error) {
	f := ini.Empty()
	root := f.Section(ini.DefaultSection)

	for _, k := range sortedKeys(data) {
		v := data[k]
		sub, ok := v.(map[string]any)
		if !ok {
			if _, err := root.NewKey(k, scalar(v)); err != nil {
				return nil, errors.Wrapf(err, "ini key %s", k)
			}
			continue
		}
		sec, err := f.NewSection(k)
		if err != nil {
			return nil, errors.Wrapf(err, "ini section %s", k)
		}
		for _, sk := range sortedKeys(sub) {
			if _, nested := sub[sk].(map[string]any); nested {
				return nil, errors.Errorf("ini section %s: key %s nests too deep", k, sk)
			}
			if _, err := sec.NewKey(sk, scalar(sub[sk])); err != nil {
				return nil, errors.Wrapf(err, "ini key %s.%s", k, sk)
			}
		}
	}

	var b bytes.Buffer
	if _, err := f.WriteTo(&b); err != nil {
		return nil, errors.Wrap(err, "ini")
	}
	return b.Bytes(), nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		var b bytes.Buffer
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(scalar(e))
		}
		return b.String()
	default:
		return fmt.Sprint(t)
	}
}
