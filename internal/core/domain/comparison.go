package domain

import (
	"fmt"
	"sort"
)

// Field is one of the container attributes that take part in change
// detection.
type Field string

const (
	FieldImage       Field = "image"
	FieldEnvironment Field = "environment"
	FieldLabels      Field = "labels"
	FieldProperties  Field = "properties"
)

// Fields lists every comparable field in a stable order.
var Fields = []Field{FieldImage, FieldEnvironment, FieldLabels, FieldProperties}

// wildcard sets the policy of all fields at once.
const wildcard = "*"

var fieldAliases = map[string]Field{
	"image":       FieldImage,
	"environment": FieldEnvironment,
	"env":         FieldEnvironment,
	"labels":      FieldLabels,
	"properties":  FieldProperties,
}

// ParseField resolves a comparison key.
func ParseField(s string) (Field, error) {
	if f, ok := fieldAliases[s]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown comparison field %q", s)
}

// Policy controls whether a field participates in change detection.
type Policy string

const (
	PolicyStrict Policy = "strict"
	PolicyIgnore Policy = "ignore"
)

// ParsePolicy validates a comparison policy value.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyStrict, PolicyIgnore:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown comparison policy %q", s)
}

// Comparisons maps every comparable field to its policy. A missing entry
// counts as strict.
type Comparisons map[Field]Policy

// DefaultComparisons compares every field strictly.
func DefaultComparisons() Comparisons {
	c := make(Comparisons, len(Fields))
	for _, f := range Fields {
		c[f] = PolicyStrict
	}
	return c
}

// Strict reports whether the field forces a recreate on mismatch.
func (c Comparisons) Strict(f Field) bool {
	p, ok := c[f]
	return !ok || p == PolicyStrict
}

// Clone returns an independent copy.
func (c Comparisons) Clone() Comparisons {
	out := make(Comparisons, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge overlays raw string keyed settings on top of c. The wildcard key is
// applied first so explicit keys win regardless of map order.
func (c Comparisons) Merge(raw map[string]string) (Comparisons, error) {
	out := c.Clone()
	if p, ok := raw[wildcard]; ok {
		pol, err := ParsePolicy(p)
		if err != nil {
			return nil, err
		}
		for _, f := range Fields {
			out[f] = pol
		}
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k != wildcard {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, err := ParseField(k)
		if err != nil {
			return nil, err
		}
		pol, err := ParsePolicy(raw[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[f] = pol
	}
	return out, nil
}
