package builtins_test

import (
	"testing"

	"github.com/candy-lang/candy-sub004/internal/builtins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_IntArithmetic(t *testing.T) {
	cases := []struct {
		name string
		kind builtins.Kind
		args []builtins.Value
		want builtins.Value
	}{
		{"add", builtins.IntAdd, []builtins.Value{builtins.Int64(1), builtins.Int64(2)}, builtins.Int64(3)},
		{"subtract", builtins.IntSubtract, []builtins.Value{builtins.Int64(5), builtins.Int64(2)}, builtins.Int64(3)},
		{"multiply", builtins.IntMultiply, []builtins.Value{builtins.Int64(4), builtins.Int64(3)}, builtins.Int64(12)},
		{"modulo negative", builtins.IntModulo, []builtins.Value{builtins.Int64(-1), builtins.Int64(3)}, builtins.Int64(2)},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := builtins.Eval(tt.kind, tt.args)
			require.NoError(t, err)
			assert.True(t, builtins.Equal(tt.want, got))
		})
	}
}

func TestEval_DivisionByZeroPanics(t *testing.T) {
	_, err := builtins.Eval(builtins.IntDivide, []builtins.Value{builtins.Int64(1), builtins.Int64(0)})
	require.Error(t, err)
	var panicErr *builtins.PanicError
	require.ErrorAs(t, err, &panicErr)
}

func TestEval_CompareTo(t *testing.T) {
	got, err := builtins.Eval(builtins.IntCompareTo, []builtins.Value{builtins.Int64(1), builtins.Int64(2)})
	require.NoError(t, err)
	assert.True(t, builtins.Equal(builtins.Tag("Less"), got))
}

func TestEqual_StructIsOrderIndependent(t *testing.T) {
	a := builtins.Value{Kind: builtins.KindStruct, Struct: []builtins.StructEntry{
		{Key: builtins.Text("a"), Value: builtins.Int64(1)},
		{Key: builtins.Text("b"), Value: builtins.Int64(2)},
	}}
	b := builtins.Value{Kind: builtins.KindStruct, Struct: []builtins.StructEntry{
		{Key: builtins.Text("b"), Value: builtins.Int64(2)},
		{Key: builtins.Text("a"), Value: builtins.Int64(1)},
	}}
	assert.True(t, builtins.Equal(a, b))
}

func TestPure_ExcludesIO(t *testing.T) {
	assert.False(t, builtins.Pure(builtins.Print))
	assert.False(t, builtins.Pure(builtins.ChannelSend))
	assert.True(t, builtins.Pure(builtins.IntAdd))
}
