package cfg

import (
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

// Split implements the block splitter (spec §4.F): for every candidate
// offset that falls strictly inside an existing block's range, split that
// block into a prefix (keeping the original label) and a suffix (labeled
// by the target offset), repartitioning outgoing constraints between
// them. Offsets that don't land on a line boundary are logged via
// policy.Warn and skipped (spec §7 "SplitMidInstruction"). Returns the
// newly created blocks.
func Split(c *CFG, pool *symtab.Pool, candidates []uint64, policy *ir.Policy) ([]*ir.Block, error) {
	var created []*ir.Block
	for _, off := range candidates {
		blk := c.BlockAt(off)
		if blk == nil || blk.IsBad() {
			continue
		}
		lo, _, ok := blk.Range()
		if !ok || off == lo {
			continue // not strictly inside any block.
		}

		idx := -1
		for i, line := range blk.Lines {
			if line.Offset() == off {
				idx = i
				break
			}
		}
		if idx == -1 {
			policy.Warnf("cfg: split at %#x falls mid-instruction in block %s; skipping", off, blk.Label)
			continue
		}

		suffixLabel, err := pool.GetOrCreateByOffset(off)
		if err != nil {
			return created, err
		}

		prefix, err := ir.NewBlock(blk.Label, blk.Align)
		if err != nil {
			return created, err
		}
		prefix.Lines = append(prefix.Lines, blk.Lines[:idx]...)

		suffix, err := ir.NewBlock(suffixLabel, blk.Align)
		if err != nil {
			return created, err
		}
		suffix.Lines = append(suffix.Lines, blk.Lines[idx:]...)

		moveAllToSuffix := true
		if policy != nil && policy.SplitDetectFlowTail {
			moveAllToSuffix = !tailModifiesFlow(blk)
		}

		cons := blk.Constraints()
		if moveAllToSuffix {
			if err := suffix.SetConstraints(cons); err != nil {
				return created, err
			}
			if err := prefix.SetConstraints([]ir.Constraint{ir.NewConstraint(ir.Next, suffix.Key())}); err != nil {
				return created, err
			}
		} else {
			var nextOnes, toOnes []ir.Constraint
			for _, cst := range cons {
				if cst.Kind() == ir.Next {
					nextOnes = append(nextOnes, cst)
				} else {
					toOnes = append(toOnes, cst)
				}
			}
			if err := suffix.SetConstraints(nextOnes); err != nil {
				return created, err
			}
			toOnes = append(toOnes, ir.NewConstraint(ir.Next, suffix.Key()))
			if err := prefix.SetConstraints(toOnes); err != nil {
				return created, err
			}
		}

		// DelNode drops every edge touching blk, including ones from
		// predecessors that had already resolved (not merely pending) -
		// those predecessors' own constraint lists are untouched, so
		// RebuildEdges reconnects them once prefix/suffix are back in the
		// graph. AddNode alone only redrains *pending* waiters, which
		// would silently lose an already-resolved predecessor edge into
		// the label the prefix reuses.
		c.DelNode(blk)
		c.AddNode(prefix)
		c.AddNode(suffix)
		c.RebuildEdges()
		created = append(created, prefix, suffix)
	}
	return created, nil
}

// tailModifiesFlow implements the "intended" detection the source's
// get_flow_instr could never reach (spec §9 Open Question): scan the last
// delayslot+1 lines for an instruction that splits or breaks flow.
func tailModifiesFlow(blk *ir.Block) bool {
	if len(blk.Lines) == 0 {
		return false
	}
	last := blk.Lines[len(blk.Lines)-1]
	instr, ok := last.(ir.Instruction)
	if !ok {
		return false
	}
	window := instr.DelaySlots() + 1
	if window > len(blk.Lines) {
		window = len(blk.Lines)
	}
	for _, line := range blk.Lines[len(blk.Lines)-window:] {
		if in, ok := line.(ir.Instruction); ok {
			if in.SplitsFlow() || in.BreaksFlow() {
				return true
			}
		}
	}
	return false
}
