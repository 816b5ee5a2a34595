package dsl

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Path is a compiled selector over a canonical document tree. The grammar is
// deliberately small: `$` root anchor, `.field` or `["field"]` object access,
// `[*]` wildcard over a sequence, `[n]` numeric index. Evaluation is
// soft-failing: a segment that matches nothing yields no values, never an
// error.
type Path struct {
	raw  string
	segs []segment
}

type segKind int

const (
	segField segKind = iota
	segWild
	segIndex
)

type segment struct {
	kind  segKind
	field string
	index int
}

// ParsePath compiles a path expression.
func ParsePath(expr string) (*Path, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, eris.New("dsl: empty path expression")
	}
	i := 0
	if s[0] == '$' {
		i = 1
	}
	var segs []segment
	for i < len(s) {
		switch s[i] {
		case '.':
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if j == i+1 {
				return nil, eris.Errorf("dsl: dangling '.' at offset %d in %q", i, expr)
			}
			segs = append(segs, segment{kind: segField, field: s[i+1 : j]})
			i = j
		case '[':
			close := strings.IndexByte(s[i:], ']')
			if close < 0 {
				return nil, eris.Errorf("dsl: unclosed '[' in %q", expr)
			}
			inner := s[i+1 : i+close]
			switch {
			case inner == "*":
				segs = append(segs, segment{kind: segWild})
			case len(inner) >= 2 && (inner[0] == '"' && inner[len(inner)-1] == '"' || inner[0] == '\'' && inner[len(inner)-1] == '\''):
				segs = append(segs, segment{kind: segField, field: inner[1 : len(inner)-1]})
			default:
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					return nil, eris.Errorf("dsl: bad index %q in %q", inner, expr)
				}
				segs = append(segs, segment{kind: segIndex, index: n})
			}
			i += close + 1
		default:
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if j == i {
				return nil, eris.Errorf("dsl: unexpected %q at offset %d in %q", string(s[i]), i, expr)
			}
			segs = append(segs, segment{kind: segField, field: s[i:j]})
			i = j
		}
	}
	if len(segs) == 0 {
		return nil, eris.Errorf("dsl: path %q selects nothing", expr)
	}
	return &Path{raw: expr, segs: segs}, nil
}

// MustParsePath is ParsePath for static expressions.
func MustParsePath(expr string) *Path {
	p, err := ParsePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// String returns the original expression.
func (p *Path) String() string { return p.raw }

// Match is one selected value together with the sequence indexes taken at
// each wildcard or index segment. The trail identifies which branch of the
// document a value came from, which scope bookkeeping needs.
type Match struct {
	Value any
	Trail []int
}

// Matches returns every selected value with its branch trail, in document
// order. Explicit nulls are dropped. A wildcard over a lone object treats it
// as a one-element sequence; XML-derived trees collapse single children that
// way.
func (p *Path) Matches(root any) []Match {
	cur := []Match{{Value: root}}
	for _, sg := range p.segs {
		var next []Match
		for _, m := range cur {
			switch sg.kind {
			case segField:
				if obj, ok := m.Value.(map[string]any); ok {
					if child, ok := obj[sg.field]; ok && child != nil {
						next = append(next, Match{Value: child, Trail: m.Trail})
					}
				}
			case segWild:
				switch t := m.Value.(type) {
				case []any:
					for i, el := range t {
						if el != nil {
							next = append(next, Match{Value: el, Trail: extendTrail(m.Trail, i)})
						}
					}
				case map[string]any:
					next = append(next, Match{Value: t, Trail: extendTrail(m.Trail, 0)})
				}
			case segIndex:
				switch t := m.Value.(type) {
				case []any:
					if sg.index < len(t) && t[sg.index] != nil {
						next = append(next, Match{Value: t[sg.index], Trail: extendTrail(m.Trail, sg.index)})
					}
				case map[string]any:
					if sg.index == 0 {
						next = append(next, Match{Value: t, Trail: extendTrail(m.Trail, 0)})
					}
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

func extendTrail(trail []int, idx int) []int {
	out := make([]int, len(trail), len(trail)+1)
	copy(out, trail)
	return append(out, idx)
}

// All returns every value the path selects, in document order.
func (p *Path) All(root any) []any {
	matches := p.Matches(root)
	if len(matches) == 0 {
		return nil
	}
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = m.Value
	}
	return out
}

// First returns the first selected value.
func (p *Path) First(root any) (any, bool) {
	vals := p.All(root)
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// FirstString returns the first selected value rendered as a scalar string.
func (p *Path) FirstString(root any) (string, bool) {
	v, ok := p.First(root)
	if !ok {
		return "", false
	}
	return ScalarString(v), true
}
