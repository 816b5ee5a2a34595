package dsl

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TransformDef is the declarative form of one transform step. Op selects the
// operation; the remaining fields parameterize it.
type TransformDef struct {
	Op      string            `json:"op" yaml:"op"`
	Pattern string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Group   int               `json:"group,omitempty" yaml:"group,omitempty"`
	Delim   string            `json:"delim,omitempty" yaml:"delim,omitempty"`
	Index   int               `json:"index,omitempty" yaml:"index,omitempty"`
	Values  map[string]string `json:"values,omitempty" yaml:"values,omitempty"`
	Default *string           `json:"default,omitempty" yaml:"default,omitempty"`
}

// Transform is one compiled step. A returned error means the value does not
// survive the step; the mapper treats that as "no value extracted", not as a
// document failure.
type Transform func(v any) (any, error)

// TransformChain applies its steps in declared order.
type TransformChain []Transform

// Apply runs the chain. Nil input short-circuits to nil.
func (c TransformChain) Apply(v any) (any, error) {
	for _, step := range c {
		if v == nil {
			return nil, nil
		}
		var err error
		v, err = step(v)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

var collapseRe = regexp.MustCompile(`\s+`)

// Layouts accepted by date_iso, tried in order. Registry feeds mix dotted
// day-first dates with ISO and RFC3339 stamps.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// CompileTransforms builds a chain from definitions.
func CompileTransforms(defs []TransformDef) (TransformChain, error) {
	chain := make(TransformChain, 0, len(defs))
	for i, def := range defs {
		t, err := compileTransform(def)
		if err != nil {
			return nil, eris.Wrapf(err, "dsl: transform %d (%s)", i, def.Op)
		}
		chain = append(chain, t)
	}
	return chain, nil
}

func compileTransform(def TransformDef) (Transform, error) {
	switch def.Op {
	case "trim":
		return stringOp(strings.TrimSpace), nil
	case "collapse_spaces":
		return stringOp(func(s string) string {
			return strings.TrimSpace(collapseRe.ReplaceAllString(s, " "))
		}), nil
	case "upper":
		return stringOp(strings.ToUpper), nil
	case "lower":
		return stringOp(strings.ToLower), nil
	case "title":
		return stringOp(func(s string) string {
			return cases.Title(language.Und).String(s)
		}), nil
	case "to_int":
		return toInt, nil
	case "to_float":
		return toFloat, nil
	case "date_iso":
		return dateISO, nil
	case "regex_extract":
		if def.Pattern == "" {
			return nil, eris.New("regex_extract requires a pattern")
		}
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "pattern %q", def.Pattern)
		}
		group := def.Group
		if group < 0 || group > re.NumSubexp() {
			return nil, eris.Errorf("group %d out of range for %q", group, def.Pattern)
		}
		return func(v any) (any, error) {
			s := ScalarString(v)
			m := re.FindStringSubmatch(s)
			if m == nil {
				return nil, eris.Errorf("no match for %q", def.Pattern)
			}
			return m[group], nil
		}, nil
	case "split":
		if def.Delim == "" {
			return nil, eris.New("split requires a delimiter")
		}
		idx := def.Index
		return func(v any) (any, error) {
			parts := strings.Split(ScalarString(v), def.Delim)
			i := idx
			if i < 0 {
				i += len(parts)
			}
			if i < 0 || i >= len(parts) {
				return nil, eris.Errorf("split index %d out of range (%d parts)", idx, len(parts))
			}
			return parts[i], nil
		}, nil
	case "map_values":
		if len(def.Values) == 0 {
			return nil, eris.New("map_values requires a lookup table")
		}
		return func(v any) (any, error) {
			key := ScalarString(v)
			if mapped, ok := def.Values[key]; ok {
				return mapped, nil
			}
			if def.Default != nil {
				return *def.Default, nil
			}
			return nil, eris.Errorf("no mapping for %q", key)
		}, nil
	default:
		return nil, eris.Errorf("unknown transform op %q", def.Op)
	}
}

func stringOp(fn func(string) string) Transform {
	return func(v any) (any, error) {
		return fn(ScalarString(v)), nil
	}
}

func toInt(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	}
	s := strings.TrimSpace(ScalarString(v))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "to_int %q", s)
	}
	return n, nil
}

func toFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	}
	s := strings.TrimSpace(strings.ReplaceAll(ScalarString(v), ",", "."))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "to_float %q", s)
	}
	return f, nil
}

func dateISO(v any) (any, error) {
	s := strings.TrimSpace(ScalarString(v))
	if s == "" {
		return nil, eris.New("date_iso: empty value")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return nil, eris.Errorf("date_iso: unrecognized date %q", s)
}
