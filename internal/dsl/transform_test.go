package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChain(t *testing.T, defs ...TransformDef) TransformChain {
	t.Helper()
	c, err := CompileTransforms(defs)
	require.NoError(t, err)
	return c
}

func apply(t *testing.T, c TransformChain, v any) any {
	t.Helper()
	out, err := c.Apply(v)
	require.NoError(t, err)
	return out
}

func TestTransform_TrimAndCollapse(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "trim"}, TransformDef{Op: "collapse_spaces"})
	assert.Equal(t, "IVAN PETROV", apply(t, c, "  IVAN   PETROV  "))
}

func TestTransform_CaseOps(t *testing.T) {
	assert.Equal(t, "KYIV", apply(t, mustChain(t, TransformDef{Op: "upper"}), "Kyiv"))
	assert.Equal(t, "kyiv", apply(t, mustChain(t, TransformDef{Op: "lower"}), "KYIV"))
	assert.Equal(t, "Ivan Petrov", apply(t, mustChain(t, TransformDef{Op: "title"}), "IVAN PETROV"))
}

func TestTransform_ToInt(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "to_int"})
	assert.Equal(t, int64(42), apply(t, c, " 42 "))
	assert.Equal(t, int64(42), apply(t, c, float64(42)))

	_, err := c.Apply("not a number")
	assert.Error(t, err)
}

func TestTransform_ToFloatAcceptsDecimalComma(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "to_float"})
	assert.Equal(t, 1500.5, apply(t, c, "1500,5"))
	assert.Equal(t, 1500.5, apply(t, c, "1500.5"))
}

func TestTransform_DateISO(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "date_iso"})
	assert.Equal(t, "1985-03-12", apply(t, c, "12.03.1985"))
	assert.Equal(t, "1985-03-12", apply(t, c, "1985-03-12"))
	assert.Equal(t, "1985-03-12", apply(t, c, "12/03/1985"))
	assert.Equal(t, "2024-06-01", apply(t, c, "2024-06-01T10:30:00Z"))

	_, err := c.Apply("yesterday")
	assert.Error(t, err)
}

func TestTransform_RegexExtract(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "regex_extract", Pattern: `(\d{2})\.(\d{2})\.(\d{4})`, Group: 3})
	assert.Equal(t, "1985", apply(t, c, "born 12.03.1985 in Kyiv"))

	_, err := c.Apply("no date here")
	assert.Error(t, err)
}

func TestTransform_RegexExtractGroupOutOfRange(t *testing.T) {
	_, err := CompileTransforms([]TransformDef{{Op: "regex_extract", Pattern: `(\d+)`, Group: 2}})
	assert.Error(t, err)
}

func TestTransform_Split(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "split", Delim: ";", Index: 1})
	assert.Equal(t, "b", apply(t, c, "a;b;c"))

	last := mustChain(t, TransformDef{Op: "split", Delim: ";", Index: -1})
	assert.Equal(t, "c", apply(t, last, "a;b;c"))

	_, err := c.Apply("single")
	assert.Error(t, err)
}

func TestTransform_MapValues(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "map_values", Values: map[string]string{"1": "male", "2": "female"}})
	assert.Equal(t, "male", apply(t, c, float64(1)))

	_, err := c.Apply("3")
	assert.Error(t, err)
}

func TestTransform_MapValuesDefault(t *testing.T) {
	dflt := "unknown"
	c := mustChain(t, TransformDef{Op: "map_values", Values: map[string]string{"1": "male"}, Default: &dflt})
	assert.Equal(t, "unknown", apply(t, c, "9"))
}

func TestTransform_ChainOrderMatters(t *testing.T) {
	c := mustChain(t,
		TransformDef{Op: "regex_extract", Pattern: `\d{2}\.\d{2}\.\d{4}`},
		TransformDef{Op: "date_iso"},
	)
	assert.Equal(t, "1985-03-12", apply(t, c, "Petrov Ivan, 12.03.1985"))
}

func TestTransform_NilShortCircuits(t *testing.T) {
	c := mustChain(t, TransformDef{Op: "upper"})
	out, err := c.Apply(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTransform_UnknownOpFailsCompile(t *testing.T) {
	_, err := CompileTransforms([]TransformDef{{Op: "reverse"}})
	assert.Error(t, err)
}

func TestScalarString_Rendering(t *testing.T) {
	assert.Equal(t, "", ScalarString(nil))
	assert.Equal(t, "42", ScalarString(float64(42)))
	assert.Equal(t, "42.5", ScalarString(42.5))
	assert.Equal(t, "true", ScalarString(true))
	assert.Equal(t, "text", ScalarString("text"))
}
