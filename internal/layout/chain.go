// Package layout implements block chains and the placement fixpoint
// precursor: grouping fallthrough-linked blocks and pinning them inside an
// allowed address interval (spec §4.G).
package layout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dismach/dismach/internal/cfg"
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

// ErrMultiplePinned is returned when a chain contains more than one block
// whose label carries a pinned offset (spec §3 "at most one block in a
// chain may be pinned").
var ErrMultiplePinned = errors.New("layout: chain has more than one pinned block")

// ErrAlignment is returned when a pinned block's offset isn't a multiple
// of its own alignment (spec §7 "AlignmentViolation").
var ErrAlignment = errors.New("layout: pinned offset violates block alignment")

// Chain is an ordered sequence of blocks linked head-to-tail by NEXT (spec
// §3 "Block chain").
type Chain struct {
	Blocks []*ir.Block

	pinnedIdx int // -1 if no block in the chain is pinned.
	maxSize   int64
	offsetMin uint64
	offsetMax uint64
	placed    bool
}

// GroupConstrainedBlocks walks every block in c and builds maximal chains
// of NEXT-linked blocks (spec §4.G "group_constrained_blocks"). Blocks are
// visited in label-ID order for determinism (spec §5: "ordering across
// blocks is not observable ... ties break by stable insertion order").
func GroupConstrainedBlocks(c *cfg.CFG) []*Chain {
	blocks := c.Blocks()
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Key() < blocks[j].Key() })

	nextPred := make(map[symtab.ID]symtab.ID) // dst -> its unique NEXT predecessor, if any.
	for _, b := range blocks {
		for _, dst := range c.Successors(b.Key()) {
			if kind, ok := c.EdgeType(b.Key(), dst); ok && kind == ir.Next {
				nextPred[dst] = b.Key()
			}
		}
	}

	byID := make(map[symtab.ID]*ir.Block, len(blocks))
	for _, b := range blocks {
		byID[b.Key()] = b
	}

	nextOf := func(id symtab.ID) (symtab.ID, bool) {
		for _, dst := range c.Successors(id) {
			if kind, ok := c.EdgeType(id, dst); ok && kind == ir.Next {
				return dst, true
			}
		}
		return 0, false
	}

	visited := make(map[symtab.ID]bool, len(blocks))
	var chains []*Chain

	buildFrom := func(head symtab.ID) {
		var ch Chain
		cur := head
		for {
			if visited[cur] {
				break
			}
			visited[cur] = true
			ch.Blocks = append(ch.Blocks, byID[cur])
			next, ok := nextOf(cur)
			if !ok {
				break
			}
			cur = next
		}
		if len(ch.Blocks) > 0 {
			chains = append(chains, &ch)
		}
	}

	for _, b := range blocks {
		if _, hasPred := nextPred[b.Key()]; hasPred {
			continue // not a chain head.
		}
		buildFrom(b.Key())
	}
	// Any block not yet visited is part of a pure NEXT cycle (no head);
	// break the cycle arbitrarily at its lowest-ID member.
	for _, b := range blocks {
		if !visited[b.Key()] {
			buildFrom(b.Key())
		}
	}
	return chains
}

// pinnedIndex returns the index of the chain's pinned block, or -1 if none
// is pinned. Fails with ErrMultiplePinned if more than one is.
func (ch *Chain) pinnedIndex() (int, error) {
	idx := -1
	for i, b := range ch.Blocks {
		if _, ok := b.Label.Offset(); ok {
			if idx != -1 {
				return -1, ErrMultiplePinned
			}
			idx = i
		}
	}
	return idx, nil
}

// MaxSize returns the chain's worst-case encoded size: the sum of each
// block's MaxSize, each padded up to its own alignment (spec §3 "max_size
// (sum of per-block max_size adjusted for alignment)").
func (ch *Chain) MaxSize() int64 { return ch.maxSize }

// OffsetMin and OffsetMax are only meaningful once Place has succeeded on
// a pinned chain, or the chain has been assigned a placement by
// ResolveSymbol.
func (ch *Chain) OffsetMin() uint64 { return ch.offsetMin }
func (ch *Chain) OffsetMax() uint64 { return ch.offsetMax }

// IsPinned reports whether this chain contains a pinned block.
func (ch *Chain) IsPinned() bool { return ch.pinnedIdx >= 0 }

// AnchorIndex returns the index the assembly fixpoint propagates offsets
// from (spec §4.H "fix_blocks"): the chain's pinned block if it has one,
// else index 0, the block ResolveSymbol/pinChainAnchors plants at the
// chain's reserved offset_min once placement assigns it one.
func (ch *Chain) AnchorIndex() int {
	if ch.pinnedIdx >= 0 {
		return ch.pinnedIdx
	}
	return 0
}

func paddedSize(b *ir.Block) uint64 {
	return ir.AlignUp(uint64(b.MaxSize), b.Align)
}

// Place computes max_size unconditionally and, for a pinned chain, also
// offset_min/offset_max by walking outward from the pinned block (spec
// §4.G "place"). Resolves the spec §9 Open Question about whether the
// backward walk should include the block at index 0: it must — a chain
// pinned at index 0 simply has an empty backward walk, which the loop
// below already expresses without any special case, so the predecessor
// walk is never short one block.
func (ch *Chain) Place() error {
	pinnedIdx, err := ch.pinnedIndex()
	if err != nil {
		return err
	}
	ch.pinnedIdx = pinnedIdx

	var total int64
	for _, b := range ch.Blocks {
		total += int64(paddedSize(b))
	}
	ch.maxSize = total

	if pinnedIdx < 0 {
		return nil
	}

	pinned := ch.Blocks[pinnedIdx]
	pinnedOffset, _ := pinned.Label.Offset()
	if pinnedOffset%pinned.Align != 0 {
		return fmt.Errorf("%w: block %s at %#x align %d", ErrAlignment, pinned.Label, pinnedOffset, pinned.Align)
	}

	cursor := pinnedOffset
	for i := pinnedIdx - 1; i >= 0; i-- {
		b := ch.Blocks[i]
		cursor -= paddedSize(b)
	}
	ch.offsetMin = cursor

	cursor = pinnedOffset + paddedSize(pinned)
	for i := pinnedIdx + 1; i < len(ch.Blocks); i++ {
		cursor += paddedSize(ch.Blocks[i])
	}
	ch.offsetMax = cursor
	ch.placed = true
	return nil
}
