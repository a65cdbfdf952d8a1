package cfg

import (
	"testing"

	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
	"github.com/dismach/dismach/internal/testing/require"
)

type fakeLine struct {
	off, size int64
}

func (f *fakeLine) Kind() ir.LineKind  { return ir.LineRaw }
func (f *fakeLine) Size() int64        { return f.size }
func (f *fakeLine) Offset() uint64     { return uint64(f.off) }
func (f *fakeLine) SetOffset(o uint64) { f.off = int64(o) }

// Split divides a block at an offset that coincides with a line boundary
// into a prefix keeping the original label and a suffix labeled by the
// target, with every line preserved and the prefix gaining exactly one
// NEXT edge to the suffix (spec §4.F, §8 "Splitter").
func TestSplitAtLineBoundary(t *testing.T) {
	pool := symtab.NewPool()
	c := New()

	lbl, err := pool.GetOrCreateByOffset(0x1000)
	require.NoError(t, err)
	blk, err := ir.NewBlock(lbl, 1)
	require.NoError(t, err)
	blk.Lines = []ir.Line{
		&fakeLine{off: 0x1000, size: 2},
		&fakeLine{off: 0x1002, size: 2},
		&fakeLine{off: 0x1004, size: 2},
	}
	c.AddNode(blk)

	created, err := Split(c, pool, []uint64{0x1004}, &ir.Policy{})
	require.NoError(t, err)
	require.Len(t, created, 2)

	prefix := c.BlockByLabel(lbl.ID())
	require.NotNil(t, prefix)
	require.Len(t, prefix.Lines, 2)
	lo, hi, ok := prefix.Range()
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), lo)
	require.Equal(t, uint64(0x1004), hi)

	cons := prefix.Constraints()
	require.Len(t, cons, 1)
	require.Equal(t, ir.Next, cons[0].Kind())

	suffixLbl := pool.GetByOffset(0x1004)
	require.NotNil(t, suffixLbl)
	suffix := c.BlockByLabel(suffixLbl.ID())
	require.NotNil(t, suffix)
	require.Len(t, suffix.Lines, 1)
	sLo, sHi, ok := suffix.Range()
	require.True(t, ok)
	require.Equal(t, uint64(0x1004), sLo)
	require.Equal(t, uint64(0x1006), sHi)
}

// fakeInstr is a minimal ir.Instruction used to exercise the splitter's
// flow-modifying-tail detection, which only looks at SplitsFlow/
// BreaksFlow/DelaySlots of the trailing lines.
type fakeInstr struct {
	fakeLine
	splits, breaks bool
}

func (f *fakeInstr) Kind() ir.LineKind                { return ir.LineInstruction }
func (f *fakeInstr) Bytes() []byte                    { return nil }
func (f *fakeInstr) Len() int                         { return int(f.size) }
func (f *fakeInstr) SetLen(n int)                     { f.size = int64(n) }
func (f *fakeInstr) DelaySlots() int                  { return 0 }
func (f *fakeInstr) Args() []ir.Expr                  { return nil }
func (f *fakeInstr) BreaksFlow() bool                 { return f.breaks }
func (f *fakeInstr) SplitsFlow() bool                 { return f.splits }
func (f *fakeInstr) HasDstFlow() bool                 { return false }
func (f *fakeInstr) IsSubcall() bool                  { return false }
func (f *fakeInstr) DstToLabel(*symtab.Pool) error    { return nil }
func (f *fakeInstr) GetDstFlow(*symtab.Pool) []ir.Expr { return nil }
func (f *fakeInstr) ResolveArgsWithSymbols(*symtab.Pool) ([]ir.Expr, error) {
	return nil, nil
}
func (f *fakeInstr) FixDstOffset()  {}
func (f *fakeInstr) Data() []byte   { return nil }
func (f *fakeInstr) SetData([]byte) {}

// With SplitDetectFlowTail enabled and a flow-modifying tail, the split
// partitions bto: NEXT constraints follow the suffix (which now owns the
// branch), TO constraints stay with the prefix, and the prefix gains a
// NEXT to the suffix (spec §4.F; §9 Open Question, knob = true).
func TestSplitPartitionsConstraintsOnFlowModifyingTail(t *testing.T) {
	pool := symtab.NewPool()
	c := New()

	lbl, err := pool.GetOrCreateByOffset(0x2000)
	require.NoError(t, err)
	blk, err := ir.NewBlock(lbl, 1)
	require.NoError(t, err)
	blk.Lines = []ir.Line{
		&fakeInstr{fakeLine: fakeLine{off: 0x2000, size: 2}},
		&fakeInstr{fakeLine: fakeLine{off: 0x2002, size: 2}},
		&fakeInstr{fakeLine: fakeLine{off: 0x2004, size: 2}, splits: true},
	}
	toLbl, err := pool.GetOrCreateByOffset(0x3000)
	require.NoError(t, err)
	nextLbl, err := pool.GetOrCreateByOffset(0x2006)
	require.NoError(t, err)
	require.NoError(t, blk.AddConstraint(ir.NewConstraint(ir.To, toLbl.ID())))
	require.NoError(t, blk.AddConstraint(ir.NewConstraint(ir.Next, nextLbl.ID())))
	c.AddNode(blk)

	created, err := Split(c, pool, []uint64{0x2002}, &ir.Policy{SplitDetectFlowTail: true})
	require.NoError(t, err)
	require.Len(t, created, 2)

	prefix := c.BlockByLabel(lbl.ID())
	require.NotNil(t, prefix)
	suffixLbl := pool.GetByOffset(0x2002)
	require.NotNil(t, suffixLbl)
	suffix := c.BlockByLabel(suffixLbl.ID())
	require.NotNil(t, suffix)

	// The branch tail's NEXT moved to the suffix; the TO stayed behind,
	// joined by the new NEXT into the suffix.
	sCons := suffix.Constraints()
	require.Len(t, sCons, 1)
	require.Equal(t, ir.NewConstraint(ir.Next, nextLbl.ID()), sCons[0])

	pCons := prefix.Constraints()
	require.Len(t, pCons, 2)
	seen := map[symtab.ID]ir.ConstraintKind{}
	for _, cst := range pCons {
		seen[cst.Dst] = cst.Kind()
	}
	require.Equal(t, ir.To, seen[toLbl.ID()])
	require.Equal(t, ir.Next, seen[suffixLbl.ID()])
}

// A candidate offset that lands mid-instruction is skipped (logged via
// policy.Warn, no split performed), per spec §7 "SplitMidInstruction".
func TestSplitSkipsMidInstructionOffset(t *testing.T) {
	pool := symtab.NewPool()
	c := New()

	lbl, err := pool.GetOrCreateByOffset(0)
	require.NoError(t, err)
	blk, err := ir.NewBlock(lbl, 1)
	require.NoError(t, err)
	blk.Lines = []ir.Line{&fakeLine{off: 0, size: 4}}
	c.AddNode(blk)

	var warned bool
	policy := &ir.Policy{Warn: func(string, ...interface{}) { warned = true }}

	created, err := Split(c, pool, []uint64{2}, policy)
	require.NoError(t, err)
	require.Len(t, created, 0)
	require.True(t, warned)

	still := c.BlockByLabel(lbl.ID())
	require.NotNil(t, still)
	require.Len(t, still.Lines, 1)
}
