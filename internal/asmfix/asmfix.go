// Package asmfix implements the assembly fixpoint (spec §4.H): turning a
// placed CFG into a final offset -> bytes map by iterating offset
// propagation, re-encoding, and re-enqueueing until nothing moves.
package asmfix

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dismach/dismach/internal/cfg"
	"github.com/dismach/dismach/internal/interval"
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/layout"
	"github.com/dismach/dismach/internal/symtab"
)

// ErrOverlap is returned when two lines' final byte ranges overlap.
var ErrOverlap = errors.New("asmfix: overlapping encoded ranges")

// ErrNoConvergence is returned when the fixpoint fails to stabilize within
// the iteration budget (spec §7 "AssemblyDidNotConverge").
var ErrNoConvergence = errors.New("asmfix: assembly did not converge")

// maxIterations bounds the re-encode/re-offset fixpoint; real ISAs
// converge in a handful of passes (branch shortening cascades at most a
// few times before settling).
const maxIterations = 64

// Resolve runs the full assembly fixpoint over c and returns the final
// offset -> bytes map (spec §4.H "asm_resolve_final"):
//  1. sanity-check the CFG,
//  2. guess provisional block sizes,
//  3. group blocks into NEXT-chains,
//  4. place every chain (and wedge) inside dstInterval,
//  5. iterate offset propagation + conservative re-encoding to a fixpoint,
//  6. flatten every line's final bytes into one map, failing on overlap.
func Resolve(
	c *cfg.CFG,
	pool *symtab.Pool,
	mnemo ir.MnemonicModule,
	policy *ir.Policy,
	dstInterval *interval.Interval,
) (map[uint64][]byte, error) {
	if err := c.SanityCheck(); err != nil {
		return nil, err
	}
	c.GuessBlocksSize(pool, mnemo)

	chains := layout.GroupConstrainedBlocks(c)
	placed, err := layout.ResolveSymbol(chains, pool, dstInterval)
	if err != nil {
		return nil, err
	}

	if err := pinChainAnchors(placed, pool); err != nil {
		return nil, err
	}

	if err := newFixpoint(placed, pool, mnemo, policy).run(); err != nil {
		return nil, err
	}

	return flatten(placed, policy)
}

// pinChainAnchors assigns a concrete offset to the one block in each chain
// that the fixpoint's fix_blocks propagates every other block's offset
// from: the chain's already-pinned block if it has one, else the first
// block, planted at the chain's reserved offset_min (spec §4.G "place" /
// §4.H "fix_blocks": "starting from the pinned block, propagate ...").
// Every other block in the chain is left unpinned; fixpoint pins them as
// it derives their offsets from actual (not worst-case) sizes.
func pinChainAnchors(chains []*layout.Chain, pool *symtab.Pool) error {
	for _, ch := range chains {
		if len(ch.Blocks) == 0 || ch.IsPinned() {
			continue // already anchored by its own pinned block.
		}
		anchor := ch.Blocks[ch.AnchorIndex()]
		if err := pool.Pin(anchor.Label, ir.AlignUp(ch.OffsetMin(), anchor.Align)); err != nil {
			return err
		}
	}
	return nil
}

// fixpoint holds the state spec §4.H "Initialization" builds once: the
// label->block and label->referencing-blocks indices the worklist needs
// to know what to re-enqueue when an offset moves.
type fixpoint struct {
	chains []*layout.Chain
	pool   *symtab.Pool
	mnemo  ir.MnemonicModule
	policy *ir.Policy

	blockOfLabel map[symtab.ID]*ir.Block
	refs         map[symtab.ID][]*ir.Block
	worklist     map[symtab.ID]struct{}
}

func newFixpoint(chains []*layout.Chain, pool *symtab.Pool, mnemo ir.MnemonicModule, policy *ir.Policy) *fixpoint {
	f := &fixpoint{
		chains:       chains,
		pool:         pool,
		mnemo:        mnemo,
		policy:       policy,
		blockOfLabel: make(map[symtab.ID]*ir.Block),
		refs:         make(map[symtab.ID][]*ir.Block),
		worklist:     make(map[symtab.ID]struct{}),
	}
	for _, ch := range chains {
		for _, b := range ch.Blocks {
			f.blockOfLabel[b.Label.ID()] = b
			if b.IsBad() {
				continue
			}
			f.worklist[b.Label.ID()] = struct{}{}
			f.collectRefs(b)
		}
	}
	return f
}

// collectRefs records, for every label b's lines reference (operand
// expressions and raw-datum fixup expressions), that b must be
// re-assembled whenever that label's offset changes (spec §4.H
// "Initialization": "label -> blocks-that-reference-it (from operand
// expressions and raw-datum expressions)"; SPEC_FULL supplement #2 wires
// RawDatum.ReferencedLabels into exactly this index).
func (f *fixpoint) collectRefs(b *ir.Block) {
	for _, line := range b.Lines {
		switch v := line.(type) {
		case ir.Instruction:
			for _, arg := range v.Args() {
				for _, lbl := range arg.Labels() {
					f.refs[lbl] = append(f.refs[lbl], b)
				}
			}
		case *ir.RawDatum:
			for _, lbl := range v.ReferencedLabels() {
				f.refs[lbl] = append(f.refs[lbl], b)
			}
		}
	}
}

// run iterates spec §4.H's "Each iteration" loop: fix_blocks propagates
// offsets through every chain, labels that moved enqueue their defining
// and referencing blocks, and every enqueued block is reassembled before
// the next pass. Converges when a pass propagates no offset changes and
// leaves nothing to reassemble.
func (f *fixpoint) run() error {
	for iter := 0; iter < maxIterations; iter++ {
		modified := make(map[symtab.ID]struct{})
		for _, ch := range f.chains {
			if err := f.fixChain(ch, modified); err != nil {
				return err
			}
		}

		for lbl := range modified {
			if db, ok := f.blockOfLabel[lbl]; ok {
				f.worklist[db.Label.ID()] = struct{}{}
			}
			for _, rb := range f.refs[lbl] {
				f.worklist[rb.Label.ID()] = struct{}{}
			}
		}

		if len(f.worklist) == 0 {
			return nil
		}

		toProcess := f.worklist
		f.worklist = make(map[symtab.ID]struct{})
		for id := range toProcess {
			b := f.blockOfLabel[id]
			if b == nil || b.IsBad() {
				continue
			}
			if err := f.assembleBlock(b); err != nil {
				return err
			}
		}
	}
	return ErrNoConvergence
}

// fixChain propagates the chain's anchor block's (already-pinned) offset
// backward through its predecessors and forward through its successors,
// using each block's current (not worst-case) Size, and records every
// label whose offset actually changed into modified (spec §4.H
// "fix_blocks": "each predecessor is placed immediately before the pinned
// one ... each successor's offset is the previous block's end, rounded up
// to the previous block's alignment").
func (f *fixpoint) fixChain(ch *layout.Chain, modified map[symtab.ID]struct{}) error {
	if len(ch.Blocks) == 0 {
		return nil
	}
	anchorIdx := ch.AnchorIndex()
	anchor := ch.Blocks[anchorIdx]
	if anchor.IsBad() {
		return nil
	}
	anchorOffset, ok := anchor.Label.Offset()
	if !ok {
		return fmt.Errorf("asmfix: chain anchor %s has no pinned offset", anchor.Label)
	}

	// Forward: each successor's offset is the previous block's end,
	// rounded up to the *previous* block's own alignment.
	cursor := anchorOffset + uint64(anchor.Size)
	prevAlign := anchor.Align
	for i := anchorIdx + 1; i < len(ch.Blocks); i++ {
		b := ch.Blocks[i]
		newOffset := ir.AlignUp(cursor, prevAlign)
		if err := f.pinIfChanged(b, newOffset, modified); err != nil {
			return err
		}
		cursor = newOffset + uint64(b.Size)
		prevAlign = b.Align
	}

	// Backward: each predecessor is placed immediately before the pinned
	// block, rounded down to the *pinned* (anchor) block's alignment.
	cursor = anchorOffset
	for i := anchorIdx - 1; i >= 0; i-- {
		b := ch.Blocks[i]
		newOffset := ir.AlignDown(cursor-uint64(b.Size), anchor.Align)
		if err := f.pinIfChanged(b, newOffset, modified); err != nil {
			return err
		}
		cursor = newOffset
	}
	return nil
}

func (f *fixpoint) pinIfChanged(b *ir.Block, newOffset uint64, modified map[symtab.ID]struct{}) error {
	if cur, ok := b.Label.Offset(); ok && cur == newOffset {
		return nil
	}
	if err := f.pool.Pin(b.Label, newOffset); err != nil {
		return err
	}
	modified[b.Label.ID()] = struct{}{}
	return nil
}

// assembleBlock lays out b's lines sequentially from its (now-pinned)
// start offset, resolving raw-datum expressions and re-encoding every
// instruction conservatively, and updates b.Size to the resulting total
// (spec §4.H "assemble_block").
func (f *fixpoint) assembleBlock(b *ir.Block) error {
	base, _ := b.Label.Offset()
	cursor := base
	var size int64

	for _, line := range b.Lines {
		line.SetOffset(cursor)
		switch v := line.(type) {
		case ir.Instruction:
			if _, err := v.ResolveArgsWithSymbols(f.pool); err != nil {
				return fmt.Errorf("asmfix: resolve operands at %#x: %w", cursor, err)
			}
			v.FixDstOffset()
			data, err := encodeConservative(v, f.pool, f.mnemo, f.policy)
			if err != nil {
				return fmt.Errorf("asmfix: encode at %#x: %w", cursor, err)
			}
			v.SetLen(len(data))
			v.SetData(data)
			cursor += uint64(len(data))
			size += int64(len(data))
		case *ir.RawDatum:
			data, err := v.Encode(f.pool)
			if err != nil {
				return fmt.Errorf("asmfix: encode raw datum at %#x: %w", cursor, err)
			}
			cursor += uint64(len(data))
			size += int64(len(data))
		default:
			cursor += uint64(line.Size())
			size += line.Size()
		}
	}
	b.Size = size
	return nil
}

// encodeConservative picks one encoding among the encoder's candidates:
// the original decoded bytes if they're still a valid candidate, else (if
// policy.Conservative) any same-length candidate, else the encoder's
// first (preferred) candidate (spec §4.H "conservative encoding").
func encodeConservative(instr ir.Instruction, pool *symtab.Pool, mnemo ir.MnemonicModule, policy *ir.Policy) ([]byte, error) {
	cands, err := mnemo.Encode(instr, pool)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("no encoding produced")
	}
	if orig := instr.Bytes(); orig != nil {
		for _, c := range cands {
			if bytesEqual(c, orig) {
				return c, nil
			}
		}
	}
	if policy != nil && policy.Conservative {
		origLen := instr.Len()
		for _, c := range cands {
			if len(c) == origLen {
				return c, nil
			}
		}
	}
	return cands[0], nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// flatten collects every line's final bytes keyed by its resolved offset,
// fills the alignment gap between consecutive blocks of a chain with
// policy.PadByte (SPEC_FULL supplement #4; space between separate chains
// is not filled), and fails with ErrOverlap if
// any two ranges intersect (spec §4.H "asm_resolve_final" final step).
func flatten(chains []*layout.Chain, policy *ir.Policy) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte)
	var pad byte
	if policy != nil {
		pad = policy.PadByte
	}

	type span struct {
		lo, hi uint64
	}
	var spans []span

	for _, ch := range chains {
		for i, b := range ch.Blocks {
			if b.IsBad() {
				continue
			}
			cursor, _ := b.Label.Offset()
			for _, line := range b.Lines {
				data := lineData(line)
				if len(data) == 0 {
					continue
				}
				lo := line.Offset()
				hi := lo + uint64(len(data))
				out[lo] = data
				spans = append(spans, span{lo, hi})
				cursor = hi
			}
			if i+1 < len(ch.Blocks) {
				nextStart, _ := ch.Blocks[i+1].Label.Offset()
				if nextStart > cursor {
					n := nextStart - cursor
					buf := make([]byte, n)
					for j := range buf {
						buf[j] = pad
					}
					out[cursor] = buf
					spans = append(spans, span{cursor, nextStart})
				}
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	for i := 1; i < len(spans); i++ {
		if spans[i].lo < spans[i-1].hi {
			return nil, fmt.Errorf("%w: [%#x,%#x) and [%#x,%#x)",
				ErrOverlap, spans[i-1].lo, spans[i-1].hi, spans[i].lo, spans[i].hi)
		}
	}
	return out, nil
}

func lineData(l ir.Line) []byte {
	switch v := l.(type) {
	case ir.Instruction:
		return v.Data()
	case *ir.RawDatum:
		return v.Data()
	default:
		return nil
	}
}
