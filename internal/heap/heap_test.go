package heap_test

import (
	"math/big"
	"testing"

	"github.com/candy-lang/candy-sub004/internal/heap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_SmallIntStaysInline(t *testing.T) {
	v := heap.NewInt(42)
	assert.True(t, v.IsInline())
	assert.Equal(t, int64(42), v.Int64())
}

func TestValue_OverflowingIntBoxes(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	v := heap.NewBigInt(huge)
	assert.False(t, v.IsInline())
	assert.Equal(t, 0, v.BigInt().Cmp(huge))
}

func TestValue_ZeroCaptureFunctionStaysInline(t *testing.T) {
	v := heap.NewFunction(nil, 2, 17)
	assert.True(t, v.IsInline())
	assert.Equal(t, 17, v.FunctionBody())
	assert.Equal(t, 2, v.FunctionArgCount())
}

func TestValue_CapturingFunctionBoxes(t *testing.T) {
	v := heap.NewFunction([]heap.Value{heap.NewInt(1)}, 0, 3)
	assert.False(t, v.IsInline())
	require.Len(t, v.FunctionCaptured(), 1)
}

func TestEqual_IntsCompareByValueAcrossConstructors(t *testing.T) {
	small := heap.NewInt(5)
	boxed := heap.NewBigInt(big.NewInt(5))
	assert.True(t, heap.Equal(small, boxed))
}

func TestEqual_StructIsOrderIndependent(t *testing.T) {
	a := heap.NewStruct([]heap.StructEntry{
		{Key: heap.NewText("a"), Value: heap.NewInt(1)},
		{Key: heap.NewText("b"), Value: heap.NewInt(2)},
	})
	b := heap.NewStruct([]heap.StructEntry{
		{Key: heap.NewText("b"), Value: heap.NewInt(2)},
		{Key: heap.NewText("a"), Value: heap.NewInt(1)},
	})
	assert.True(t, heap.Equal(a, b))
}

func TestEqual_FunctionsCompareByIdentityNotCaptures(t *testing.T) {
	a := heap.NewFunction([]heap.Value{heap.NewInt(1)}, 0, 9)
	b := heap.NewFunction([]heap.Value{heap.NewInt(2)}, 0, 9)
	assert.False(t, heap.Equal(a, b), "distinct boxed closures must not compare equal just because they share a body")

	inlineA := heap.NewFunction(nil, 1, 9)
	inlineB := heap.NewFunction(nil, 1, 9)
	assert.True(t, heap.Equal(inlineA, inlineB), "0-capture functions over the same body are interchangeable")
}

func TestEqual_TagWithAndWithoutValue(t *testing.T) {
	h := heap.New()
	ok := h.Symbols.FindOrAdd("Ok")
	a := heap.NewTag(ok, heap.Value{}, false)
	b := heap.NewTag(ok, heap.Value{}, false)
	assert.True(t, heap.Equal(a, b))

	withValue := heap.NewTag(ok, heap.NewInt(1), true)
	assert.False(t, heap.Equal(a, withValue))
}

func TestHeap_DropReleasesNestedChildren(t *testing.T) {
	h := heap.New()
	inner := h.Alloc(heap.NewList([]heap.Value{heap.NewInt(1), heap.NewInt(2)}))
	outer := h.Alloc(heap.NewStruct([]heap.StructEntry{
		{Key: heap.NewText("items"), Value: inner},
	}))
	assert.Equal(t, 2, h.Live())

	h.Dup(inner, 1)
	h.Drop(outer)
	assert.Equal(t, 1, h.Live(), "the struct is gone but inner list had an extra reference kept alive")

	h.Drop(inner)
	assert.Equal(t, 0, h.Live())
}

func TestHeap_DropAtZeroRecursesThroughGrandchildren(t *testing.T) {
	h := heap.New()
	leaf := h.Alloc(heap.NewText("leaf"))
	mid := h.Alloc(heap.NewList([]heap.Value{leaf}))
	top := h.Alloc(heap.NewList([]heap.Value{mid}))
	assert.Equal(t, 3, h.Live())

	h.Drop(top)
	assert.Equal(t, 0, h.Live())
}

func TestHeap_CloneAcrossHeapsPreservesSharing(t *testing.T) {
	src := heap.New()
	shared := src.Alloc(heap.NewText("shared"))
	root := src.Alloc(heap.NewStruct([]heap.StructEntry{
		{Key: heap.NewText("a"), Value: shared},
		{Key: heap.NewText("b"), Value: shared},
	}))

	dst := heap.New()
	mapping := make(map[*heap.Box]heap.Value)
	cloned := dst.Clone(root, mapping)

	a, _ := cloned.StructGet(heap.NewText("a"))
	b, _ := cloned.StructGet(heap.NewText("b"))
	assert.True(t, heap.Equal(a, b))
	assert.Equal(t, "shared", a.Text())
}

func TestValue_SendAndReceivePortsAreIdentifiedByChannel(t *testing.T) {
	send := heap.NewSendPort(4)
	receive := heap.NewReceivePort(4)
	assert.Equal(t, 4, send.PortChannel())
	assert.False(t, heap.Equal(send, receive), "send/receive are different kinds even over the same channel")
}
