package asmfix_test

import (
	"testing"

	"github.com/dismach/dismach/internal/asmfix"
	"github.com/dismach/dismach/internal/cfg"
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
	"github.com/dismach/dismach/internal/testing/require"
	"github.com/dismach/dismach/internal/toyisa"
)

// A raw datum whose expression references a label is fixed up at assembly
// time: the final bytes hold the label's resolved offset, packed
// little-endian at the expression's declared width (spec §4.H step 4).
func TestResolveFixesUpRawDatumExpressions(t *testing.T) {
	pool := symtab.NewPool()
	lbl, err := pool.GetOrCreateByOffset(0x100)
	require.NoError(t, err)

	blk, err := ir.NewBlock(lbl, 1)
	require.NoError(t, err)
	require.NoError(t, blk.AppendLine(&ir.RawDatum{Exprs: []ir.Expr{
		ir.Sym{Name: lbl.Name(), Label: lbl.ID(), BitSize: 64},
	}}))

	c := cfg.New()
	c.AddNode(blk)

	out, err := asmfix.Resolve(c, pool, toyisa.Mnemonic{}, &ir.Policy{}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x01, 0, 0, 0, 0, 0, 0}, out[0x100])
}

// A NEXT successor whose predecessor has a wider alignment lands on the
// next aligned boundary, and the slack in between is filled with the
// policy's pad byte (spec §4.H "fix_blocks"; padding policy).
func TestResolvePadsAlignmentGapBetweenChainedBlocks(t *testing.T) {
	pool := symtab.NewPool()
	lblA, err := pool.GetOrCreateByOffset(0x100)
	require.NoError(t, err)
	lblB, err := pool.GetOrCreateByName("tail")
	require.NoError(t, err)

	a, err := ir.NewBlock(lblA, 4)
	require.NoError(t, err)
	require.NoError(t, a.AppendLine(&ir.RawDatum{Bytes: []byte{0xAA}}))
	require.NoError(t, a.AddConstraint(ir.NewConstraint(ir.Next, lblB.ID())))

	b, err := ir.NewBlock(lblB, 1)
	require.NoError(t, err)
	require.NoError(t, b.AppendLine(&ir.RawDatum{Bytes: []byte{0xBB}}))

	c := cfg.New()
	c.AddNode(a)
	c.AddNode(b)

	out, err := asmfix.Resolve(c, pool, toyisa.Mnemonic{}, &ir.Policy{PadByte: 0x90}, nil)
	require.NoError(t, err)

	require.Equal(t, []byte{0xAA}, out[0x100])
	require.Equal(t, []byte{0x90, 0x90, 0x90}, out[0x101])
	require.Equal(t, []byte{0xBB}, out[0x104])

	off, ok := lblB.Offset()
	require.True(t, ok)
	require.Equal(t, uint64(0x104), off)
}
