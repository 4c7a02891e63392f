// Package volume parses the compact volume notation
//
//	source:target[:mode][|{key="value",...}]
//
// into a domain.Volume. The attribute suffix may be wrapped in braces, in
// brackets, or left bare. Known keys are owner, group, mode and ignore.
package volume

import (
	"fmt"
	"strings"

	"github.com/melih/harbormaster/internal/core/domain"
)

var (
	blockedSuffixes = []string{".pid", ".sock", ".socket", ".conf", ".config"}
	blockedPrefixes = []string{"/sys", "/dev", "/run"}
)

// Parse parses one volume entry. Errors are *domain.ParseError with Input
// and Column set; the caller fills in the container and index.
func Parse(s string) (domain.Volume, error) {
	var v domain.Volume

	head, attrs, hasAttrs := strings.Cut(s, "|")
	parts := strings.Split(head, ":")
	switch {
	case len(parts) < 2:
		return v, fail(s, len(head)+1, "expected source:target")
	case len(parts) > 3:
		col := len(parts[0]) + len(parts[1]) + len(parts[2]) + 3
		return v, fail(s, col, "too many ':' separators")
	}
	v.Source, v.Target = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if v.Source == "" {
		return v, fail(s, 1, "empty source")
	}
	if v.Target == "" {
		return v, fail(s, len(parts[0])+2, "empty target")
	}
	if len(parts) == 3 {
		v.Mode = strings.TrimSpace(parts[2])
		if v.Mode == "" {
			return v, fail(s, len(parts[0])+len(parts[1])+3, "empty mode")
		}
	}

	if !hasAttrs {
		return v, nil
	}
	p := &attrParser{input: s, src: attrs, offset: len(head) + 1}
	fields, err := p.parse()
	if err != nil {
		return v, err
	}
	for _, f := range fields {
		switch f.key {
		case "owner":
			v.Owner = f.value
		case "group":
			v.Group = f.value
		case "mode":
			if _, err := (domain.Ownership{Mode: f.value}).FileMode(0); err != nil {
				return v, fail(s, f.col, err.Error())
			}
			v.FileMode = f.value
		case "ignore":
			b, err := ParseBool(f.value)
			if err != nil {
				return v, fail(s, f.col, err.Error())
			}
			v.Ignore = b
		}
	}
	return v, nil
}

// ParseBool accepts the usual spellings of a boolean, case-insensitively.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// Managed reports whether the host side of v is a directory the provisioner
// should create. Ignored entries, named volumes and paths that usually point
// at sockets, pid files, config files or kernel filesystems are left alone.
func Managed(v domain.Volume) bool {
	if v.Ignore || !strings.HasPrefix(v.Source, "/") {
		return false
	}
	for _, suf := range blockedSuffixes {
		if strings.HasSuffix(v.Source, suf) {
			return false
		}
	}
	for _, pre := range blockedPrefixes {
		if v.Source == pre || strings.HasPrefix(v.Source, pre+"/") {
			return false
		}
	}
	return true
}

// Ownership returns the custom ownership of v, with def filling the gaps.
func Ownership(v domain.Volume, def domain.Ownership) domain.Ownership {
	return domain.Ownership{Owner: v.Owner, Group: v.Group, Mode: v.FileMode}.Or(def)
}

func fail(input string, col int, msg string) *domain.ParseError {
	return &domain.ParseError{Input: input, Column: col, Msg: msg}
}
