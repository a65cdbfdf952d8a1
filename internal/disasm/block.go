// Package disasm implements the recursive-descent core: the single-block
// disassembler (spec §4.C) and the whole-CFG worklist driver (spec §4.D).
package disasm

import (
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

// JobDone is the shared, session-wide set of already-decoded offsets
// threaded through every recursive disassembly call. It guarantees
// termination (each offset is decoded at most once) and idempotence of
// the worklist driver (spec §5 "job_done").
type JobDone map[uint64]struct{}

func (j JobDone) has(o uint64) bool { _, ok := j[o]; return ok }
func (j JobDone) mark(o uint64)     { j[o] = struct{}{} }

// Block disassembles a single basic block starting at offset under label,
// honoring delay slots and every stop condition in spec §4.C. It returns
// the resulting block (a BadBlock on failure) and the set of offsets
// discovered for further disassembly.
//
// Grounded line-for-line on miasm2/core/asmbloc.py's dis_bloc: the loop
// exit condition, the three ordered stop checks, the decode/null-start
// bad-block fallback, the delay-slot-aware flow-break detection, and the
// deferred add_next_offset bookkeeping all mirror that function.
func Block(
	mnemo ir.MnemonicModule,
	src ir.ByteSource,
	label *symtab.Label,
	offset uint64,
	jobDone JobDone,
	pool *symtab.Pool,
	policy *ir.Policy,
) (*ir.Block, []uint64, error) {
	block, err := ir.NewBlock(label, 1)
	if err != nil {
		return nil, nil, err
	}

	var (
		inDelaySlot    bool
		delaySlotCount = mnemo.DelaySlot()
		lineCount      int
		addNextOffset  bool
		raw            []ir.Constraint
		discoveredSet  = make(map[uint64]struct{})
	)

	addNext := func(o uint64) error {
		l, err := pool.GetOrCreateByOffset(o)
		if err != nil {
			return err
		}
		raw = append(raw, ir.NewConstraint(ir.Next, l.ID()))
		discoveredSet[o] = struct{}{}
		return nil
	}

	for !inDelaySlot || delaySlotCount > 0 {
		if inDelaySlot {
			delaySlotCount--
		}

		// (a) forbidden offset, or past-first-line split point.
		if policy.InDontDisassemble(offset) || (len(block.Lines) > 0 && policy.InSplitAt(offset)) {
			if err := addNext(offset); err != nil {
				return nil, nil, err
			}
			break
		}

		lineCount++
		// (b) line watchdog: stop without a constraint.
		if wd := policy.LinesWatchdogValue(); wd > 0 && lineCount > wd {
			policy.Warnf("disasm: lines watchdog exceeded at %#x", offset)
			break
		}

		// (c) already decoded by another path into this block's span.
		if jobDone.has(offset) {
			if err := addNext(offset); err != nil {
				return nil, nil, err
			}
			break
		}

		atOffset := offset
		instr, derr := mnemo.Decode(src, label.Attrib(), offset)
		if derr != nil || instr == nil {
			if len(block.Lines) == 0 {
				return ir.NewBadBlock(label, ir.UnableToDisassemble), toSlice(discoveredSet), nil
			}
			if err := addNext(atOffset); err != nil {
				return nil, nil, err
			}
			break
		}

		if policy != nil && policy.DontDisNulstartBlock && allZero(instr.Bytes(), instr.Len()) {
			if len(block.Lines) == 0 {
				return ir.NewBadBlock(label, ir.NullStartingBlock), toSlice(discoveredSet), nil
			}
			if err := addNext(atOffset); err != nil {
				return nil, nil, err
			}
			break
		}

		// Flow-graph modifier discovered while still inside a delay slot:
		// the instruction is not appended; its fallthrough is deferred.
		if inDelaySlot && (instr.SplitsFlow() || instr.BreaksFlow()) {
			addNextOffset = true
			break
		}

		jobDone.mark(offset)
		instr.SetOffset(offset)
		offset += uint64(instr.Len())
		if err := block.AppendLine(instr); err != nil {
			return nil, nil, err
		}

		if !instr.BreaksFlow() {
			continue
		}

		if instr.SplitsFlow() && !(instr.IsSubcall() && policy != nil && policy.DontDisassembleReturnOfCall) {
			addNextOffset = true
		}
		if instr.HasDstFlow() {
			if err := instr.DstToLabel(pool); err != nil {
				return nil, nil, err
			}
			for _, d := range instr.GetDstFlow(pool) {
				sym, ok := d.(ir.Sym)
				if !ok || sym.Label == symtab.Invalid {
					continue
				}
				if !instr.IsSubcall() || (policy != nil && policy.FollowCall) {
					raw = append(raw, ir.NewConstraint(ir.To, sym.Label))
				}
			}
		}

		inDelaySlot = true
		delaySlotCount = instr.DelaySlots()
	}

	// Mirrors the source's trailing "for c in cur_block.bto:
	// offsets_to_dis.add(c.label.offset)" pass: every TO destination with a
	// pinned offset is also a disassembly target. NEXT destinations were
	// already recorded when addNext minted/looked up their label.
	for _, c := range raw {
		if c.Kind() != ir.To {
			continue
		}
		if lbl := pool.Get(c.Dst); lbl != nil {
			if off, ok := lbl.Offset(); ok {
				discoveredSet[off] = struct{}{}
			}
		}
	}

	if addNextOffset {
		if err := addNext(offset); err != nil {
			return nil, nil, err
		}
	}

	fixed := ir.FixConstraints(raw)
	if err := block.SetConstraints(fixed); err != nil {
		return nil, nil, err
	}

	if policy != nil && policy.PostBlockCallback != nil {
		policy.PostBlockCallback(block)
	}

	return block, toSlice(discoveredSet), nil
}

func toSlice(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for o := range m {
		out = append(out, o)
	}
	return out
}

func allZero(b []byte, l int) bool {
	if b == nil {
		return false
	}
	n := l
	if n > len(b) {
		n = len(b)
	}
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}
