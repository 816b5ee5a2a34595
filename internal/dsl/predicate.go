package dsl

import (
	"regexp"

	"github.com/rotisserie/eris"
)

// PredicateDef is the declarative form of a predicate as it appears in a
// schema definition. Exactly one field group must be set: one leaf, or one
// combinator list. Definitions are data; Compile turns them into an
// interpreter tree.
type PredicateDef struct {
	All  []PredicateDef `json:"all,omitempty" yaml:"all,omitempty"`
	Any  []PredicateDef `json:"any,omitempty" yaml:"any,omitempty"`
	None []PredicateDef `json:"none,omitempty" yaml:"none,omitempty"`

	Exists string     `json:"exists,omitempty" yaml:"exists,omitempty"`
	Equals *EqualsDef `json:"equals,omitempty" yaml:"equals,omitempty"`
	In     *InDef     `json:"in,omitempty" yaml:"in,omitempty"`
	Regex  *RegexDef  `json:"regex,omitempty" yaml:"regex,omitempty"`
	Count  *CountDef  `json:"count,omitempty" yaml:"count,omitempty"`

	// Weight scales a leaf hit; zero means 1.
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// EqualsDef matches when the first value at Path equals Value.
type EqualsDef struct {
	Path  string `json:"path" yaml:"path"`
	Value any    `json:"value" yaml:"value"`
}

// InDef matches when the first value at Path is one of Values.
type InDef struct {
	Path   string `json:"path" yaml:"path"`
	Values []any  `json:"values" yaml:"values"`
}

// RegexDef matches when the first value at Path matches Pattern.
type RegexDef struct {
	Path    string `json:"path" yaml:"path"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// CountDef matches when Path selects at least Min values.
type CountDef struct {
	Path string `json:"path" yaml:"path"`
	Min  int    `json:"min" yaml:"min"`
}

// Predicate scores a canonical document tree. A zero score is a miss; any
// positive score is a hit whose magnitude ranks variant candidates.
// Evaluation never fails: absent paths score zero.
type Predicate interface {
	Score(root any) int
}

// Compile builds the interpreter for a predicate definition.
func Compile(def PredicateDef) (Predicate, error) {
	set := 0
	if len(def.All) > 0 {
		set++
	}
	if len(def.Any) > 0 {
		set++
	}
	if len(def.None) > 0 {
		set++
	}
	if def.Exists != "" {
		set++
	}
	if def.Equals != nil {
		set++
	}
	if def.In != nil {
		set++
	}
	if def.Regex != nil {
		set++
	}
	if def.Count != nil {
		set++
	}
	if set == 0 {
		return nil, eris.New("dsl: empty predicate definition")
	}
	if set > 1 {
		return nil, eris.New("dsl: predicate definition sets more than one operator")
	}

	weight := def.Weight
	if weight <= 0 {
		weight = 1
	}

	switch {
	case len(def.All) > 0:
		kids, err := compileList(def.All)
		if err != nil {
			return nil, err
		}
		return allPred{kids: kids}, nil
	case len(def.Any) > 0:
		kids, err := compileList(def.Any)
		if err != nil {
			return nil, err
		}
		return anyPred{kids: kids}, nil
	case len(def.None) > 0:
		kids, err := compileList(def.None)
		if err != nil {
			return nil, err
		}
		return nonePred{kids: kids}, nil
	case def.Exists != "":
		p, err := ParsePath(def.Exists)
		if err != nil {
			return nil, eris.Wrap(err, "dsl: exists")
		}
		return existsPred{path: p, weight: weight}, nil
	case def.Equals != nil:
		p, err := ParsePath(def.Equals.Path)
		if err != nil {
			return nil, eris.Wrap(err, "dsl: equals")
		}
		return equalsPred{path: p, want: ScalarString(def.Equals.Value), weight: weight}, nil
	case def.In != nil:
		p, err := ParsePath(def.In.Path)
		if err != nil {
			return nil, eris.Wrap(err, "dsl: in")
		}
		want := make(map[string]struct{}, len(def.In.Values))
		for _, v := range def.In.Values {
			want[ScalarString(v)] = struct{}{}
		}
		return inPred{path: p, want: want, weight: weight}, nil
	case def.Regex != nil:
		p, err := ParsePath(def.Regex.Path)
		if err != nil {
			return nil, eris.Wrap(err, "dsl: regex")
		}
		re, err := regexp.Compile(def.Regex.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "dsl: regex pattern %q", def.Regex.Pattern)
		}
		return regexPred{path: p, re: re, weight: weight}, nil
	default:
		p, err := ParsePath(def.Count.Path)
		if err != nil {
			return nil, eris.Wrap(err, "dsl: count")
		}
		if def.Count.Min < 1 {
			return nil, eris.Errorf("dsl: count min must be >= 1, got %d", def.Count.Min)
		}
		return countPred{path: p, min: def.Count.Min, weight: weight}, nil
	}
}

func compileList(defs []PredicateDef) ([]Predicate, error) {
	kids := make([]Predicate, 0, len(defs))
	for i, d := range defs {
		k, err := Compile(d)
		if err != nil {
			return nil, eris.Wrapf(err, "dsl: child %d", i)
		}
		kids = append(kids, k)
	}
	return kids, nil
}

type existsPred struct {
	path   *Path
	weight int
}

func (p existsPred) Score(root any) int {
	for _, v := range p.path.All(root) {
		if Present(v) {
			return p.weight
		}
	}
	return 0
}

type equalsPred struct {
	path   *Path
	want   string
	weight int
}

func (p equalsPred) Score(root any) int {
	v, ok := p.path.First(root)
	if ok && ScalarString(v) == p.want {
		return p.weight
	}
	return 0
}

type inPred struct {
	path   *Path
	want   map[string]struct{}
	weight int
}

func (p inPred) Score(root any) int {
	v, ok := p.path.First(root)
	if !ok {
		return 0
	}
	if _, hit := p.want[ScalarString(v)]; hit {
		return p.weight
	}
	return 0
}

type regexPred struct {
	path   *Path
	re     *regexp.Regexp
	weight int
}

func (p regexPred) Score(root any) int {
	v, ok := p.path.First(root)
	if ok && p.re.MatchString(ScalarString(v)) {
		return p.weight
	}
	return 0
}

type countPred struct {
	path   *Path
	min    int
	weight int
}

func (p countPred) Score(root any) int {
	if len(p.path.All(root)) >= p.min {
		return p.weight
	}
	return 0
}

// allPred sums child scores and misses entirely when any child misses.
type allPred struct{ kids []Predicate }

func (p allPred) Score(root any) int {
	total := 0
	for _, k := range p.kids {
		s := k.Score(root)
		if s == 0 {
			return 0
		}
		total += s
	}
	return total
}

// anyPred scores the strongest child.
type anyPred struct{ kids []Predicate }

func (p anyPred) Score(root any) int {
	best := 0
	for _, k := range p.kids {
		if s := k.Score(root); s > best {
			best = s
		}
	}
	return best
}

// nonePred scores a fixed 1 when every child misses; a structure ruled out
// by its children is a weak positive signal, not a strong one.
type nonePred struct{ kids []Predicate }

func (p nonePred) Score(root any) int {
	for _, k := range p.kids {
		if k.Score(root) > 0 {
			return 0
		}
	}
	return 1
}
