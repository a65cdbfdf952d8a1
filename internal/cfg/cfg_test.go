package cfg

import (
	"testing"

	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
	"github.com/dismach/dismach/internal/testing/require"
)

func mustBlock(t *testing.T, pool *symtab.Pool, off uint64) *ir.Block {
	t.Helper()
	lbl, err := pool.GetOrCreateByOffset(off)
	require.NoError(t, err)
	b, err := ir.NewBlock(lbl, 1)
	require.NoError(t, err)
	return b
}

// AddNode on a block whose constraint targets a not-yet-present label
// records a pending; inserting the target later drains it into a real
// edge (spec §4.E "add_node", §8 "Pendings").
func TestAddNodeDrainsPendingOnArrival(t *testing.T) {
	pool := symtab.NewPool()
	c := New()

	a := mustBlock(t, pool, 0)
	bLabel, err := pool.GetOrCreateByOffset(10)
	require.NoError(t, err)
	require.NoError(t, a.AddConstraint(ir.NewConstraint(ir.Next, bLabel.ID())))

	require.True(t, c.AddNode(a))
	require.Equal(t, 1, c.PendingCount())

	b := mustBlock(t, pool, 10)
	require.True(t, c.AddNode(b))
	require.Equal(t, 0, c.PendingCount())

	succ := c.Successors(a.Key())
	require.Len(t, succ, 1)
	require.Equal(t, b.Key(), succ[0])
	kind, ok := c.EdgeType(a.Key(), b.Key())
	require.True(t, ok)
	require.Equal(t, ir.Next, kind)
}

// SanityCheck fails while a pending remains, and again on a NEXT
// self-loop or a duplicate incoming NEXT, per spec §4.E/§8.
func TestSanityCheckCatchesEachViolation(t *testing.T) {
	pool := symtab.NewPool()

	t.Run("pending", func(t *testing.T) {
		c := New()
		a := mustBlock(t, pool, 0x100)
		target, err := pool.GetOrCreateByOffset(0x200)
		require.NoError(t, err)
		require.NoError(t, a.AddConstraint(ir.NewConstraint(ir.To, target.ID())))
		c.AddNode(a)
		require.Error(t, c.SanityCheck())
	})

	t.Run("next self loop", func(t *testing.T) {
		c := New()
		a := mustBlock(t, pool, 0x300)
		c.AddNode(a)
		require.NoError(t, a.AddConstraint(ir.NewConstraint(ir.Next, a.Key())))
		c.RebuildEdges()
		require.Error(t, c.SanityCheck())
	})

	t.Run("duplicate incoming next", func(t *testing.T) {
		c := New()
		target := mustBlock(t, pool, 0x1000)
		c.AddNode(target)

		p1 := mustBlock(t, pool, 0x1100)
		require.NoError(t, p1.AddConstraint(ir.NewConstraint(ir.Next, target.Key())))
		c.AddNode(p1)

		p2 := mustBlock(t, pool, 0x1200)
		require.NoError(t, p2.AddConstraint(ir.NewConstraint(ir.Next, target.Key())))
		c.AddNode(p2)

		require.Error(t, c.SanityCheck())
	})
}

// RebuildEdges reconciles a block mutated outside CFG-aware calls: adding
// a constraint directly to a.bto and calling RebuildEdges must produce the
// matching edge without a fresh AddNode (spec §4.E "rebuild_edges", §5).
func TestRebuildEdgesReconcilesExternalMutation(t *testing.T) {
	pool := symtab.NewPool()
	c := New()
	a := mustBlock(t, pool, 0)
	b := mustBlock(t, pool, 2)
	c.AddNode(a)
	c.AddNode(b)
	require.NoError(t, a.AddConstraint(ir.NewConstraint(ir.Next, b.Key())))

	c.RebuildEdges()

	require.True(t, c.g.HasEdge(a.Key(), b.Key()))
	kind, ok := c.EdgeType(a.Key(), b.Key())
	require.True(t, ok)
	require.Equal(t, ir.Next, kind)

	a.RemoveConstraint(b.Key())
	c.RebuildEdges()
	require.False(t, c.g.HasEdge(a.Key(), b.Key()))
}

// BadBlockPredecessors(strict) reports a predecessor in strict mode only
// when *all* of its successors are BadBlocks; a predecessor that also
// flows into healthy code is excluded even though it isn't bad itself
// (spec §4.E, mirroring get_bad_blocks_predecessors).
func TestBadBlockPredecessorsStrict(t *testing.T) {
	pool := symtab.NewPool()
	c := New()

	badLabel, err := pool.GetOrCreateByOffset(0x50)
	require.NoError(t, err)
	bad := ir.NewBadBlock(badLabel, ir.UnableToDisassemble)
	c.AddNode(bad)

	other := mustBlock(t, pool, 0x20)
	c.AddNode(other)

	// onlyBadPred's sole successor is the bad block: reported under both
	// strict and loose.
	onlyBadPred := mustBlock(t, pool, 0x10)
	require.NoError(t, onlyBadPred.AddConstraint(ir.NewConstraint(ir.To, badLabel.ID())))
	c.AddNode(onlyBadPred)

	// mixedPred also flows into healthy code (other), so strict mode must
	// exclude it even though mixedPred itself is healthy.
	mixedPred := mustBlock(t, pool, 0x30)
	require.NoError(t, mixedPred.AddConstraint(ir.NewConstraint(ir.To, badLabel.ID())))
	require.NoError(t, mixedPred.AddConstraint(ir.NewConstraint(ir.Next, other.Key())))
	c.AddNode(mixedPred)

	// A BadBlock itself may never carry outgoing constraints, so a
	// second BadBlock can only become bad's predecessor via direct graph
	// injection (e.g. a Merge from a CFG built under a looser invariant);
	// exercise that path straight through the underlying graph. Its sole
	// successor (bad) is bad, so it's reported under strict too.
	otherBad := ir.NewBadBlock(mustLabel(t, pool, 0x60), ir.UnknownBadBlock)
	c.AddNode(otherBad)
	c.g.AddEdge(otherBad.Key(), bad.Key())

	preds := c.BadBlockPredecessors(true)
	got := preds[badLabel.ID()]
	require.Len(t, got, 2)
	keys := map[symtab.ID]bool{got[0].Key(): true, got[1].Key(): true}
	require.True(t, keys[onlyBadPred.Key()])
	require.True(t, keys[otherBad.Key()])

	predsLoose := c.BadBlockPredecessors(false)
	require.Len(t, predsLoose[badLabel.ID()], 3)
}

func mustLabel(t *testing.T, pool *symtab.Pool, off uint64) *symtab.Label {
	t.Helper()
	l, err := pool.GetOrCreateByOffset(off)
	require.NoError(t, err)
	return l
}

// DelNode drops the departing block's own pendings with it: a waiter that
// left the graph must not mint an edge when its awaited label shows up
// later (spec §4.E "del_node"; §8 "Pendings" invariant).
func TestDelNodeDropsItsPendings(t *testing.T) {
	pool := symtab.NewPool()
	c := New()

	a := mustBlock(t, pool, 0)
	target, err := pool.GetOrCreateByOffset(0x40)
	require.NoError(t, err)
	require.NoError(t, a.AddConstraint(ir.NewConstraint(ir.To, target.ID())))
	c.AddNode(a)
	require.Equal(t, 1, c.PendingCount())

	c.DelNode(a)
	require.Equal(t, 0, c.PendingCount())

	late := mustBlock(t, pool, 0x40)
	require.True(t, c.AddNode(late))
	require.Len(t, c.Predecessors(late.Key()), 0)
}

// AddEdge refuses a duplicate; AddUniqEdge tolerates it. DelEdge removes
// both the edge and the matching constraint from src.bto (spec §4.E).
func TestAddDelEdgeKeepConstraintsInSync(t *testing.T) {
	pool := symtab.NewPool()
	c := New()
	a := mustBlock(t, pool, 0)
	b := mustBlock(t, pool, 4)
	c.AddNode(a)
	c.AddNode(b)

	require.NoError(t, c.AddEdge(a.Key(), b.Key(), ir.To))
	require.ErrorIs(t, c.AddEdge(a.Key(), b.Key(), ir.To), ErrEdgeExists)
	require.NoError(t, c.AddUniqEdge(a.Key(), b.Key(), ir.To))

	_, ok := a.Constraint(b.Key())
	require.True(t, ok)

	c.DelEdge(a.Key(), b.Key())
	_, ok = a.Constraint(b.Key())
	require.False(t, ok)
	require.Len(t, c.Successors(a.Key()), 0)
	_, ok = c.EdgeType(a.Key(), b.Key())
	require.False(t, ok)
}

// Merge imports another CFG's blocks wholesale; constraints resolve or
// pend exactly as during ordinary insertion (spec §4.E "merge").
func TestMergeImportsNodesAndEdges(t *testing.T) {
	pool := symtab.NewPool()

	dst := New()
	a := mustBlock(t, pool, 0)
	dst.AddNode(a)

	other := New()
	b := mustBlock(t, pool, 4)
	d := mustBlock(t, pool, 8)
	require.NoError(t, b.AddConstraint(ir.NewConstraint(ir.Next, d.Key())))
	// b also branches back into dst's existing block.
	require.NoError(t, b.AddConstraint(ir.NewConstraint(ir.To, a.Key())))
	other.AddNode(b)
	other.AddNode(d)

	dst.Merge(other)

	require.Len(t, dst.Blocks(), 3)
	require.Equal(t, 0, dst.PendingCount())
	kind, ok := dst.EdgeType(b.Key(), d.Key())
	require.True(t, ok)
	require.Equal(t, ir.Next, kind)
	kind, ok = dst.EdgeType(b.Key(), a.Key())
	require.True(t, ok)
	require.Equal(t, ir.To, kind)
}
