package layout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dismach/dismach/internal/interval"
	"github.com/dismach/dismach/internal/symtab"
)

// ErrPlacement is returned when a pinned chain falls outside the
// destination interval, or no gap accommodates an unpinned chain (spec §7
// "PlacementFailure").
var ErrPlacement = errors.New("layout: placement failed")

const maxOffset = ^uint64(0)

// pinnedSpan is anything that occupies a fixed [OffsetMin,OffsetMax) slice
// of the address space during placement: either a real Chain (pinned, or
// already dropped into a gap) or a Wedge standing in for a forbidden
// range (spec §3 "Wedge": "a pseudo-chain ... cannot hold blocks"). Both
// types already expose this pair of accessors, so the pinned-item set can
// hold either without a discriminated union.
type pinnedSpan interface {
	OffsetMin() uint64
	OffsetMax() uint64
}

type placedItem struct {
	span  pinnedSpan
	chain *Chain // non-nil iff span is a real chain, not a Wedge.
}

func (it placedItem) lo() uint64 { return it.span.OffsetMin() }
func (it placedItem) hi() uint64 { return it.span.OffsetMax() }

// ResolveSymbol places every chain inside dstInterval, following spec
// §4.G "resolve_symbol": pinned chains anchor fixed gaps, wedges carve out
// everything outside dstInterval, and unpinned chains (largest first) are
// greedily merged into the first gap that fits. A nil dstInterval
// defaults to the full uint64 range.
//
// Merging dispatches on what owns the gap's left edge: a real chain
// absorbs the new blocks outright (both then share one anchor, so the
// assembly fixpoint retightens the join with actual sizes instead of the
// MaxSize estimate), while a wedge — or open address space — leaves the
// chain to anchor itself at the gap's start.
func ResolveSymbol(chains []*Chain, pool *symtab.Pool, dstInterval *interval.Interval) ([]*Chain, error) {
	dst := interval.Interval{Lo: 0, Hi: maxOffset}
	if dstInterval != nil {
		dst = *dstInterval
	}

	var pinnedItems []placedItem
	var unpinned []*Chain

	for _, ch := range chains {
		if err := ch.Place(); err != nil {
			return nil, err
		}
		if ch.IsPinned() {
			if ch.OffsetMin() < dst.Lo || ch.OffsetMax() > dst.Hi {
				return nil, fmt.Errorf("%w: pinned chain [%#x,%#x) outside destination interval [%#x,%#x)",
					ErrPlacement, ch.OffsetMin(), ch.OffsetMax(), dst.Lo, dst.Hi)
			}
			pinnedItems = append(pinnedItems, placedItem{span: ch, chain: ch})
		} else {
			unpinned = append(unpinned, ch)
		}
	}

	universe := interval.NewSet(interval.Interval{Lo: 0, Hi: maxOffset})
	allowed := interval.NewSet(dst)
	forbidden := universe.Difference(allowed)
	for _, fiv := range forbidden.Intervals() {
		wedge := NewWedge(fiv.Lo, fiv.Hi-fiv.Lo)
		pinnedItems = append(pinnedItems, placedItem{span: wedge})
	}

	sort.Slice(pinnedItems, func(i, j int) bool { return pinnedItems[i].lo() < pinnedItems[j].lo() })
	sort.Slice(unpinned, func(i, j int) bool { return unpinned[i].MaxSize() > unpinned[j].MaxSize() })

	for _, ch := range unpinned {
		leftIdx, placedAt, ok := firstFittingGap(pinnedItems, uint64(ch.MaxSize()))
		if !ok {
			return nil, fmt.Errorf("%w: cannot find enough space for a chain of size %d", ErrPlacement, ch.MaxSize())
		}

		if leftIdx >= 0 && pinnedItems[leftIdx].chain != nil {
			// The gap's left neighbor is a real chain: concatenate the
			// new blocks onto it and re-place as one chain.
			left := pinnedItems[leftIdx].chain
			left.Blocks = append(left.Blocks, ch.Blocks...)
			if err := left.Place(); err != nil {
				return nil, err
			}
			if !left.IsPinned() {
				left.offsetMax = left.offsetMin + uint64(left.maxSize)
			}
			continue
		}

		// Wedge-adjacent or open-start gap: the chain anchors itself.
		ch.offsetMin = placedAt
		ch.offsetMax = placedAt + uint64(ch.MaxSize())
		ch.placed = true

		item := placedItem{span: ch, chain: ch}
		idx := sort.Search(len(pinnedItems), func(i int) bool { return pinnedItems[i].lo() >= item.lo() })
		pinnedItems = append(pinnedItems, placedItem{})
		copy(pinnedItems[idx+1:], pinnedItems[idx:])
		pinnedItems[idx] = item
	}

	out := make([]*Chain, 0, len(pinnedItems))
	for _, it := range pinnedItems {
		if it.chain != nil {
			out = append(out, it.chain)
		}
	}
	return out, nil
}

// firstFittingGap finds the first gap between consecutive sorted items
// (including the open gaps before the first and after the last) that can
// hold size bytes, following spec §4.G step 5's strict inequality
// (prev.offset_max + chain.max_size < next.offset_min). leftIdx is the
// index of the item owning the gap's left edge, -1 when the gap opens at
// the start of the address space.
func firstFittingGap(items []placedItem, size uint64) (leftIdx int, at uint64, ok bool) {
	prevMax := uint64(0)
	leftIdx = -1
	for i, it := range items {
		if prevMax+size < it.lo() {
			return leftIdx, prevMax, true
		}
		if it.hi() > prevMax {
			prevMax = it.hi()
			leftIdx = i
		}
	}
	if prevMax+size < maxOffset {
		return leftIdx, prevMax, true
	}
	return -1, 0, false
}
