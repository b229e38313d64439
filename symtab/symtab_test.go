package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicSymbols(t *testing.T) {
	tab := New()
	for _, name := range []string{"PI", "P%", "TRUE", "FALSE", "CPU"} {
		assert.True(t, tab.IsDefined(name), name)
	}
	v, err := tab.Get("TRUE")
	require.NoError(t, err)
	assert.Equal(t, -1.0, v)
}

func TestAddRejectsRedefinition(t *testing.T) {
	tab := New()
	require.NoError(t, tab.Add("X", 1, false))
	err := tab.Add("X", 2, false)
	assert.Error(t, err)
}

func TestCommandLinePrecedence(t *testing.T) {
	tab := New()
	require.NoError(t, tab.AddCommandLineSymbol("X=42"))

	// First source-level Add is a silent no-op, leaving the
	// command-line value in place.
	require.NoError(t, tab.Add("X", 99, false))
	v, err := tab.Get("X")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	// A second Add is now a real redefinition and must fail.
	assert.Error(t, tab.Add("X", 7, false))
}

func TestAddCommandLineSymbolDefaultValue(t *testing.T) {
	tab := New()
	require.NoError(t, tab.AddCommandLineSymbol("FLAG"))
	v, err := tab.Get("FLAG")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestAddCommandLineSymbolRejectsBadName(t *testing.T) {
	tab := New()
	assert.Error(t, tab.AddCommandLineSymbol("1X=2"))
}

func TestStacks(t *testing.T) {
	tab := New()
	require.NoError(t, tab.PushStack("S", 1))
	require.NoError(t, tab.PushStack("S", 2))
	v, err := tab.Get("S")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	require.NoError(t, tab.PopStack("S"))
	v, err = tab.Get("S")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, tab.PopStack("S"))
	empty, err := tab.IsEmpty("S")
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = tab.Get("S")
	assert.Error(t, err)
}

func TestResetStacksEmptiesEveryStack(t *testing.T) {
	tab := New()
	require.NoError(t, tab.PushStack("S", 1))
	tab.ResetStacks()
	empty, err := tab.IsEmpty("S")
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestScopeStackMangling(t *testing.T) {
	tab := New()
	require.NoError(t, tab.AddLabel("loop", 0x1000))

	tab.PushBrace()
	require.NoError(t, tab.AddLabel("loop", 0x2000))
	v, err := tab.Resolve("loop")
	require.NoError(t, err)
	assert.Equal(t, 0x2000.0, v)
	require.NoError(t, tab.PopScope())

	v, err = tab.Resolve("loop")
	require.NoError(t, err)
	assert.Equal(t, 0x1000.0, v)
	assert.Equal(t, 0, tab.ScopeDepth())
}

func TestPushForOwnsInductionStack(t *testing.T) {
	tab := New()
	require.NoError(t, tab.PushFor("I%", 0))
	v, err := tab.Get("I%")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	require.NoError(t, tab.PopScope())
	assert.False(t, tab.IsStack("I%") && func() bool { e, _ := tab.IsEmpty("I%"); return !e }())
}

func TestDumpFormatIsNotQuiteJSON(t *testing.T) {
	tab := New()
	require.NoError(t, tab.AddLabel("START", 0x1000))
	require.NoError(t, tab.Add("NOTALABEL", 5, false))

	out := tab.Dump(true, false)
	assert.Contains(t, out, "'START':4096 L")
	assert.NotContains(t, out, "NOTALABEL")
	assert.True(t, len(out) > 0 && out[0] == '[')
}

func TestDumpExcludesMangledLocalLabels(t *testing.T) {
	tab := New()
	tab.PushBrace()
	require.NoError(t, tab.AddLabel("inner", 1))
	out := tab.Dump(true, false)
	assert.NotContains(t, out, "inner@")
}

func TestDumpGlobalFalseOmitsTopLevelLabels(t *testing.T) {
	tab := New()
	require.NoError(t, tab.AddLabel("START", 0x1000))
	out := tab.Dump(false, false)
	assert.Equal(t, "[{}]\n", out)
}

func TestDumpAllEmitsNestedChildScopes(t *testing.T) {
	tab := New()
	require.NoError(t, tab.AddLabel("outer", 1))
	tab.PushBrace()
	require.NoError(t, tab.AddLabel("inner", 2))
	require.NoError(t, tab.PopScope())

	out := tab.Dump(true, true)
	assert.Contains(t, out, "'outer':1 L")
	assert.Contains(t, out, "'inner':2 L")
	// the nested scope is its own bracketed dictionary, not flattened
	// into the outer one.
	assert.Contains(t, out, "[{'inner':2 L}]")
}

func TestDumpAllNestsGrandchildScopes(t *testing.T) {
	tab := New()
	tab.PushBrace()
	require.NoError(t, tab.AddLabel("mid", 1))
	tab.PushBrace()
	require.NoError(t, tab.AddLabel("leaf", 2))
	require.NoError(t, tab.PopScope())
	require.NoError(t, tab.PopScope())

	out := tab.Dump(false, true)
	assert.Equal(t, "[{[{'mid':1 L,[{'leaf':2 L}]}]}]\n", out)
}
