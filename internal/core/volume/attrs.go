package volume

import "fmt"

var knownKeys = map[string]bool{
	"owner":  true,
	"group":  true,
	"mode":   true,
	"ignore": true,
}

type attrField struct {
	key   string
	value string
	col   int
}

// attrParser scans the attribute suffix. offset is the position of src inside
// input, so columns point into the whole volume string.
type attrParser struct {
	input  string
	src    string
	offset int
	pos    int
}

func (p *attrParser) parse() ([]attrField, error) {
	p.skipSpace()
	var closer byte
	switch p.peek() {
	case '{':
		closer = '}'
		p.pos++
	case '[':
		closer = ']'
		p.pos++
	}

	var fields []attrField
	seen := map[string]bool{}
loop:
	for {
		p.skipSpace()
		if closer != 0 && p.peek() == closer {
			p.pos++
			break loop
		}
		if p.eof() {
			if closer != 0 {
				return nil, p.errorf("missing %q", closer)
			}
			break loop
		}

		col := p.col()
		key := p.ident()
		if key == "" {
			return nil, p.errorf("expected attribute name")
		}
		if !knownKeys[key] {
			return nil, fail(p.input, col, fmt.Sprintf("unknown attribute %q", key))
		}
		if seen[key] {
			return nil, fail(p.input, col, fmt.Sprintf("duplicate attribute %q", key))
		}
		seen[key] = true

		p.skipSpace()
		if p.peek() != '=' {
			return nil, p.errorf("expected '=' after %s", key)
		}
		p.pos++
		p.skipSpace()

		valCol := p.col()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		fields = append(fields, attrField{key: key, value: val, col: valCol})

		p.skipSpace()
		switch {
		case p.peek() == ',':
			p.pos++
		case closer != 0 && p.peek() == closer:
			p.pos++
			break loop
		case p.eof() && closer == 0:
			break loop
		case p.eof():
			return nil, p.errorf("missing %q", closer)
		default:
			return nil, p.errorf("unexpected %q", p.peek())
		}
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected trailing input")
	}
	if len(fields) == 0 && closer == 0 {
		return nil, p.errorf("empty attribute list")
	}
	return fields, nil
}

func (p *attrParser) value() (string, error) {
	switch q := p.peek(); q {
	case '"', '\'':
		p.pos++
		start := p.pos
		for !p.eof() && p.src[p.pos] != q {
			p.pos++
		}
		if p.eof() {
			return "", fail(p.input, p.offset+start, "unterminated quoted value")
		}
		v := p.src[start:p.pos]
		p.pos++
		return v, nil
	}
	start := p.pos
	for !p.eof() && bareChar(p.src[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return "", p.errorf("expected value")
	}
	return p.src[start:p.pos], nil
}

func bareChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '-', c == '.', c == '/', c == '+', c == ':':
		return true
	}
	return false
}

func (p *attrParser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(p.pos > start && c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *attrParser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *attrParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *attrParser) eof() bool { return p.pos >= len(p.src) }

func (p *attrParser) col() int { return p.offset + p.pos + 1 }

func (p *attrParser) errorf(format string, args ...any) error {
	return fail(p.input, p.col(), fmt.Sprintf(format, args...))
}
