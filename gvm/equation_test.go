package gvm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvalHopsComparison(t *testing.T) {
	eqn := NewEquation("hops < 7", "true", "hops < 7 || hops == 0", "false")
	ok, err := eqn.EvalXtnd(Vars{"hops": 3})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eqn.EvalXtnd(Vars{"hops": 10})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalDefaultsToFalse(t *testing.T) {
	eqn := NewEquation("", "", "", "")
	ok, err := eqn.EvalRecv(Vars{"hops": 0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalRejectsNonBoolean(t *testing.T) {
	eqn := NewEquation("hops", "true", "true", "false")
	_, err := eqn.EvalRecv(Vars{"hops": 1})
	require.Error(t, err)
}

func TestEvalUndefinedVariable(t *testing.T) {
	eqn := NewEquation("n_children == 0", "true", "true", "false")
	_, err := eqn.EvalRecv(Vars{"hops": 1})
	require.Error(t, err)
}
