// Package cfg implements the CFG container (spec §4.E): a graph whose
// edges mirror each block's outgoing constraints, with forward-reference
// (pending) support and the ability to rebuild from either side.
package cfg

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dismach/dismach/internal/graphbase"
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

// ErrEdgeExists is returned by AddEdge when the edge is already present
// (use AddUniqEdge for an idempotent variant).
var ErrEdgeExists = errors.New("cfg: edge already exists")

// ErrSanity is returned by SanityCheck.
var ErrSanity = errors.New("cfg: sanity check failed")

type edgeKey struct{ src, dst symtab.ID }

type pendingEntry struct {
	waiter symtab.ID
	kind   ir.ConstraintKind
}

// CFG is a directed, at-most-one-edge-per-pair graph of blocks (spec §3
// "CFG").
type CFG struct {
	g        *graphbase.Graph[symtab.ID, *ir.Block]
	edgeType map[edgeKey]ir.ConstraintKind
	pendings map[symtab.ID][]pendingEntry
}

// New returns an empty CFG.
func New() *CFG {
	return &CFG{
		g:        graphbase.New[symtab.ID, *ir.Block](),
		edgeType: make(map[edgeKey]ir.ConstraintKind),
		pendings: make(map[symtab.ID][]pendingEntry),
	}
}

// BlockByLabel returns the block registered under label id, if present.
func (c *CFG) BlockByLabel(id symtab.ID) *ir.Block {
	b, _ := c.g.Node(id)
	return b
}

// HasBlock reports whether a block is registered under id.
func (c *CFG) HasBlock(id symtab.ID) bool { return c.g.HasNode(id) }

// Blocks returns every block currently in the CFG, in unspecified order.
func (c *CFG) Blocks() []*ir.Block { return c.g.Nodes() }

// BlockAt returns the block whose [lo,hi) range contains offset, if any
// (SPEC_FULL supplement #3, grounded on asmbloc.py's offset-range lookup).
func (c *CFG) BlockAt(offset uint64) *ir.Block {
	for _, b := range c.g.Nodes() {
		lo, hi, ok := b.Range()
		if ok && offset >= lo && offset < hi {
			return b
		}
	}
	return nil
}

// PendingCount returns the number of labels still awaiting a block.
func (c *CFG) PendingCount() int {
	n := 0
	for _, ps := range c.pendings {
		n += len(ps)
	}
	return n
}

// AddNode registers block into the CFG. Returns false if a block is
// already registered under the same label. Drains any pendings awaiting
// this label into real edges, then adds the block's own outgoing
// constraints as edges (where the destination is already present) or new
// pendings (spec §4.E "add_node").
func (c *CFG) AddNode(block *ir.Block) bool {
	key := block.Key()
	if c.g.HasNode(key) {
		return false
	}
	if waiters, ok := c.pendings[key]; ok {
		for _, w := range waiters {
			c.g.AddEdge(w.waiter, key)
			c.edgeType[edgeKey{w.waiter, key}] = w.kind
		}
		delete(c.pendings, key)
	}
	c.g.AddNode(block)
	for _, cst := range block.Constraints() {
		if c.g.HasNode(cst.Dst) {
			c.g.AddEdge(key, cst.Dst)
			c.edgeType[edgeKey{key, cst.Dst}] = cst.Kind()
		} else {
			c.pendings[cst.Dst] = append(c.pendings[cst.Dst], pendingEntry{waiter: key, kind: cst.Kind()})
		}
	}
	return true
}

// DelNode removes block and every edge touching it (spec §4.E "del_node":
// "delegate to graph base plus label index cleanup" — our label index
// *is* the graph's node map, so cleanup is the edgeType entries plus any
// pendings the departing block was waiting on: its constraints leave the
// graph with it, so a pending it registered must not survive to mint a
// phantom edge when the awaited label finally arrives.
func (c *CFG) DelNode(block *ir.Block) {
	key := block.Key()
	for _, s := range c.g.Successors(key) {
		delete(c.edgeType, edgeKey{key, s})
	}
	for _, p := range c.g.Predecessors(key) {
		delete(c.edgeType, edgeKey{p, key})
	}
	for dst, ps := range c.pendings {
		kept := ps[:0]
		for _, p := range ps {
			if p.waiter != key {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(c.pendings, dst)
		} else {
			c.pendings[dst] = kept
		}
	}
	c.g.DelNode(block)
}

// AddEdge asserts the edge is new, records its constraint type, and adds
// the corresponding constraint to src's block if it isn't already there
// (spec §4.E "add_edge"). Both src and dst must already be registered.
func (c *CFG) AddEdge(src, dst symtab.ID, kind ir.ConstraintKind) error {
	if c.g.HasEdge(src, dst) {
		return fmt.Errorf("%w: %v->%v", ErrEdgeExists, src, dst)
	}
	srcBlock := c.BlockByLabel(src)
	if srcBlock == nil || !c.g.HasNode(dst) {
		return fmt.Errorf("cfg: AddEdge requires both endpoints present")
	}
	if _, ok := srcBlock.Constraint(dst); !ok {
		if err := srcBlock.AddConstraint(ir.NewConstraint(kind, dst)); err != nil {
			return err
		}
	}
	c.g.AddEdge(src, dst)
	c.edgeType[edgeKey{src, dst}] = kind
	return nil
}

// AddUniqEdge is the idempotent variant of AddEdge: a no-op if the edge
// already exists.
func (c *CFG) AddUniqEdge(src, dst symtab.ID, kind ir.ConstraintKind) error {
	if c.g.HasEdge(src, dst) {
		return nil
	}
	return c.AddEdge(src, dst, kind)
}

// DelEdge removes the matching constraint from src.bto and the edge index
// (spec §4.E "del_edge").
func (c *CFG) DelEdge(src, dst symtab.ID) {
	if srcBlock := c.BlockByLabel(src); srcBlock != nil {
		srcBlock.RemoveConstraint(dst)
	}
	c.g.DelEdge(src, dst)
	delete(c.edgeType, edgeKey{src, dst})
}

// EdgeType returns the recorded constraint type for edge src->dst.
func (c *CFG) EdgeType(src, dst symtab.ID) (ir.ConstraintKind, bool) {
	k, ok := c.edgeType[edgeKey{src, dst}]
	return k, ok
}

// Successors returns the destination labels reachable directly from src.
func (c *CFG) Successors(src symtab.ID) []symtab.ID { return c.g.Successors(src) }

// Predecessors returns the source labels that reach dst directly.
func (c *CFG) Predecessors(dst symtab.ID) []symtab.ID { return c.g.Predecessors(dst) }

// Merge imports every block of other into c. Node import alone is
// sufficient to recreate every edge and pending: each block carries its
// own constraints, so AddNode resolves or defers them exactly as it would
// during ordinary disassembly (spec §4.E "merge": "import nodes first,
// then edges" — edges here are not a separate data structure to copy, so
// importing nodes performs both steps at once).
func (c *CFG) Merge(other *CFG) {
	blocks := other.g.Nodes()
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Key() < blocks[j].Key() })
	for _, b := range blocks {
		c.AddNode(b)
	}
}

// RebuildEdges rebuilds the label index from scratch (a no-op here, since
// the graph's own node map doubles as the label index) and reconciles
// every block's bto with existing edges: adds missing edges, updates
// constraint types on existing ones, and deletes edges whose destination
// is no longer in bto (spec §4.E "rebuild_edges"). Call this after
// mutating blocks outside CFG-aware calls (spec §5).
func (c *CFG) RebuildEdges() {
	for _, b := range c.g.Nodes() {
		src := b.Key()
		for _, dst := range c.g.Successors(src) {
			if _, ok := b.Constraint(dst); !ok {
				c.g.DelEdge(src, dst)
				delete(c.edgeType, edgeKey{src, dst})
			}
		}
		for _, cst := range b.Constraints() {
			if c.g.HasNode(cst.Dst) {
				if !c.g.HasEdge(src, cst.Dst) {
					c.g.AddEdge(src, cst.Dst)
				}
				c.edgeType[edgeKey{src, cst.Dst}] = cst.Kind()
				c.removePending(cst.Dst, src)
			} else {
				c.addPendingUnlessPresent(cst.Dst, src, cst.Kind())
			}
		}
	}
}

func (c *CFG) removePending(dst, waiter symtab.ID) {
	ps := c.pendings[dst]
	for i, p := range ps {
		if p.waiter == waiter {
			c.pendings[dst] = append(ps[:i], ps[i+1:]...)
			return
		}
	}
}

func (c *CFG) addPendingUnlessPresent(dst, waiter symtab.ID, kind ir.ConstraintKind) {
	for _, p := range c.pendings[dst] {
		if p.waiter == waiter {
			return
		}
	}
	c.pendings[dst] = append(c.pendings[dst], pendingEntry{waiter: waiter, kind: kind})
}

// SanityCheck fails when any pending remains, any NEXT self-loop exists,
// or any block has more than one incoming NEXT (spec §4.E "sanity_check").
func (c *CFG) SanityCheck() error {
	if n := c.PendingCount(); n > 0 {
		return fmt.Errorf("%w: %d pending edge(s) remain", ErrSanity, n)
	}
	nextPreds := make(map[symtab.ID]int)
	for key, kind := range c.edgeType {
		if kind != ir.Next {
			continue
		}
		if key.src == key.dst {
			return fmt.Errorf("%w: NEXT self-loop on %v", ErrSanity, key.src)
		}
		nextPreds[key.dst]++
	}
	for dst, n := range nextPreds {
		if n > 1 {
			return fmt.Errorf("%w: block %v has %d incoming NEXT edges", ErrSanity, dst, n)
		}
	}
	return nil
}

// BadBlocks returns every leaf block that is a BadBlock (spec §4.E
// "bad_blocks").
func (c *CFG) BadBlocks() []*ir.Block {
	var out []*ir.Block
	for _, b := range c.g.Leaves() {
		if b.IsBad() {
			out = append(out, b)
		}
	}
	return out
}

// BadBlockPredecessors returns, for every BadBlock leaf, its predecessor
// blocks. When strict is true, a predecessor is reported only if *every*
// one of its successors is itself a BadBlock, mirroring the original's
// get_bad_blocks_predecessors: a predecessor that also flows into healthy
// code is not "only" feeding broken code, so strict mode excludes it even
// though it isn't bad itself (spec §4.E "bad_block_predecessors(strict?)").
func (c *CFG) BadBlockPredecessors(strict bool) map[symtab.ID][]*ir.Block {
	badSet := make(map[symtab.ID]bool)
	for _, bad := range c.BadBlocks() {
		badSet[bad.Key()] = true
	}

	out := make(map[symtab.ID][]*ir.Block)
	for _, bad := range c.BadBlocks() {
		key := bad.Key()
		for _, predID := range c.g.Predecessors(key) {
			pred := c.BlockByLabel(predID)
			if pred == nil {
				continue
			}
			if strict && !allSuccessorsBad(c, predID, badSet) {
				continue
			}
			out[key] = append(out[key], pred)
		}
	}
	return out
}

// allSuccessorsBad reports whether every successor of id is a BadBlock.
// A block with no successors is not reported under strict mode: it feeds
// nothing, bad or otherwise.
func allSuccessorsBad(c *CFG, id symtab.ID, badSet map[symtab.ID]bool) bool {
	succs := c.g.Successors(id)
	if len(succs) == 0 {
		return false
	}
	for _, s := range succs {
		if !badSet[s] {
			return false
		}
	}
	return true
}

// GuessBlocksSize assigns each instruction a provisional length (via
// trial-encoding, falling back to the mnemonic's MaxInstructionLen when
// the encoder can't yet resolve symbols) and accumulates block.Size and
// block.MaxSize (spec §4.E "guess_blocks_size").
func (c *CFG) GuessBlocksSize(pool *symtab.Pool, mnemo ir.MnemonicModule) {
	for _, b := range c.g.Nodes() {
		if b.IsBad() {
			continue
		}
		var size, maxSize int64
		for _, line := range b.Lines {
			instr, ok := line.(ir.Instruction)
			if !ok {
				n := line.Size()
				size += n
				maxSize += n
				continue
			}
			// The last candidate is the longest encoding the instruction
			// can take, so the provisional size over-reserves rather than
			// under-reserves placement room.
			l := instr.Len()
			if cands, err := mnemo.Encode(instr, pool); err == nil && len(cands) > 0 {
				l = len(cands[len(cands)-1])
			} else {
				l = mnemo.MaxInstructionLen()
			}
			instr.SetLen(l)
			size += int64(l)
			maxSize += int64(l)
		}
		b.Size = size
		b.MaxSize = maxSize
	}
}
