package symtab

import (
	"testing"

	"github.com/dismach/dismach/internal/testing/require"
)

func TestPool_AddGetByNameAndOffset(t *testing.T) {
	p := NewPool()
	off := uint64(0x1000)
	l, err := p.Add("foo", &off)
	require.NoError(t, err)

	require.Equal(t, l, p.GetByName(l.Name()))
	require.Equal(t, l, p.GetByOffset(off))
}

func TestPool_AddConflictingName(t *testing.T) {
	p := NewPool()
	_, err := p.Add("dup", nil)
	require.NoError(t, err)
	_, err = p.Add("dup", nil)
	require.Error(t, err)
}

func TestPool_AddConflictingOffset(t *testing.T) {
	p := NewPool()
	off := uint64(42)
	_, err := p.Add("a", &off)
	require.NoError(t, err)
	_, err = p.Add("b", &off)
	require.Error(t, err)
}

func TestPool_RenameConflict(t *testing.T) {
	p := NewPool()
	_, err := p.Add("a", nil)
	require.NoError(t, err)
	b, err := p.Add("b", nil)
	require.NoError(t, err)

	err = p.Rename(b, "a")
	require.Error(t, err)
}

func TestPool_PinConflict(t *testing.T) {
	p := NewPool()
	off := uint64(8)
	_, err := p.Add("a", &off)
	require.NoError(t, err)
	b, err := p.Add("b", nil)
	require.NoError(t, err)

	err = p.Pin(b, off)
	require.Error(t, err)
}

func TestPool_UnpinKeepsLabel(t *testing.T) {
	p := NewPool()
	off := uint64(16)
	l, err := p.Add("x", &off)
	require.NoError(t, err)

	p.Unpin(l)

	require.Nil(t, p.GetByOffset(off))
	require.Equal(t, l, p.GetByName("x"))
	_, ok := l.Offset()
	require.False(t, ok)
}

func TestPool_GetOrCreateByOffsetDefaultName(t *testing.T) {
	p := NewPool()
	l, err := p.GetOrCreateByOffset(0xdeadbeef)
	require.NoError(t, err)
	require.Equal(t, "loc_00000000deadbeef", l.Name())

	// Idempotent: asking again returns the same label.
	l2, err := p.GetOrCreateByOffset(0xdeadbeef)
	require.NoError(t, err)
	require.Equal(t, l.ID(), l2.ID())
}

func TestPool_GenAnonymousUnique(t *testing.T) {
	p := NewPool()
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		n := p.GenAnonymous()
		require.False(t, seen[n])
		seen[n] = true
	}
}

func TestPool_Merge(t *testing.T) {
	a := NewPool()
	aOff := uint64(1)
	la, err := a.Add("shared", &aOff)
	require.NoError(t, err)

	b := NewPool()
	bOff := uint64(1)
	lb, err := b.Add("shared", &bOff)
	require.NoError(t, err)
	bOff2 := uint64(2)
	lc, err := b.Add("only_in_b", &bOff2)
	require.NoError(t, err)

	mapping, err := a.Merge(b)
	require.NoError(t, err)

	// "shared" matched by name+offset, so it maps back to the original.
	require.Equal(t, la.ID(), mapping[lb.ID()])
	// "only_in_b" was imported fresh.
	imported := a.GetByName("only_in_b")
	require.NotNil(t, imported)
	require.Equal(t, imported.ID(), mapping[lc.ID()])
}

func TestPool_RemoveClearsBothIndices(t *testing.T) {
	p := NewPool()
	off := uint64(0x40)
	l, err := p.Add("gone", &off)
	require.NoError(t, err)

	p.Remove(l)

	require.Nil(t, p.GetByName("gone"))
	require.Nil(t, p.GetByOffset(off))

	// The slots are free again for a fresh label.
	_, err = p.Add("gone", &off)
	require.NoError(t, err)
}
