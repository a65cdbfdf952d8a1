package ir

import (
	"errors"
	"fmt"

	"github.com/dismach/dismach/internal/symtab"
)

// BadBlockError classifies why a block could not be disassembled (spec §3
// "BadBlock ... carries an error code").
type BadBlockError uint8

const (
	// NoBadBlockError marks a Block that is not a BadBlock.
	NoBadBlockError BadBlockError = iota
	UnableToDisassemble
	NullStartingBlock
	UnknownBadBlock
)

func (e BadBlockError) String() string {
	switch e {
	case UnableToDisassemble:
		return "UnableToDisassemble"
	case NullStartingBlock:
		return "NullStartingBlock"
	case UnknownBadBlock:
		return "Unknown"
	default:
		return "none"
	}
}

// ErrBadBlockMutation is returned by AppendLine/AddConstraint/SetConstraints
// when called on a BadBlock, which may not carry lines or constraints
// (spec §3). The splitter never splits a BadBlock: cfg.Split skips it.
var ErrBadBlockMutation = errors.New("ir: a BadBlock may not be mutated")

// Block is a label, an alignment, an ordered sequence of lines, and a set
// of outgoing constraints (spec §3 "Block").
type Block struct {
	Label *symtab.Label
	Align uint64 // power-of-two, >= 1.

	Lines []Line

	cons      map[symtab.ID]Constraint
	consOrder []symtab.ID

	BadErr BadBlockError

	// Size is the sum of the current encoded sizes of Lines; MaxSize is
	// the provisional (possibly over-estimated) size used for placement
	// before every symbol is resolved (spec §4.E "guess_blocks_size").
	Size, MaxSize int64
}

// NewBlock creates an empty, healthy block labeled lbl with the given
// power-of-two alignment.
func NewBlock(lbl *symtab.Label, align uint64) (*Block, error) {
	if align == 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("ir: alignment %d is not a power of two", align)
	}
	return &Block{Label: lbl, Align: align, cons: make(map[symtab.ID]Constraint)}, nil
}

// NewBadBlock creates a BadBlock carrying the given error code.
func NewBadBlock(lbl *symtab.Label, err BadBlockError) *Block {
	return &Block{Label: lbl, Align: 1, BadErr: err, cons: make(map[symtab.ID]Constraint)}
}

// Key implements graphbase.Node[symtab.ID].
func (b *Block) Key() symtab.ID { return b.Label.ID() }

// IsBad reports whether this is a BadBlock.
func (b *Block) IsBad() bool { return b.BadErr != NoBadBlockError }

// AppendLine appends a line to the block. Fails on a BadBlock.
func (b *Block) AppendLine(l Line) error {
	if b.IsBad() {
		return ErrBadBlockMutation
	}
	b.Lines = append(b.Lines, l)
	return nil
}

// SetConstraints replaces the block's outgoing constraint set wholesale,
// preserving insertion order (used by the single-block disassembler after
// fix_constraints, and by the splitter when partitioning bto). Fails on a
// BadBlock.
func (b *Block) SetConstraints(cs []Constraint) error {
	if b.IsBad() {
		return ErrBadBlockMutation
	}
	b.cons = make(map[symtab.ID]Constraint, len(cs))
	b.consOrder = b.consOrder[:0]
	for _, c := range cs {
		b.cons[c.Dst] = c
		b.consOrder = append(b.consOrder, c.Dst)
	}
	return nil
}

// AddConstraint merges a single constraint into the block's outgoing set,
// keeping NEXT over TO when one already targets the same destination
// (spec §3). Fails on a BadBlock.
func (b *Block) AddConstraint(c Constraint) error {
	if b.IsBad() {
		return ErrBadBlockMutation
	}
	existing, ok := b.cons[c.Dst]
	if !ok {
		b.cons[c.Dst] = c
		b.consOrder = append(b.consOrder, c.Dst)
		return nil
	}
	if c.Kind_.stronger(existing.Kind_) {
		b.cons[c.Dst] = c
	}
	return nil
}

// RemoveConstraint drops any outgoing constraint to dst.
func (b *Block) RemoveConstraint(dst symtab.ID) {
	if _, ok := b.cons[dst]; !ok {
		return
	}
	delete(b.cons, dst)
	for i, d := range b.consOrder {
		if d == dst {
			b.consOrder = append(b.consOrder[:i], b.consOrder[i+1:]...)
			break
		}
	}
}

// Constraint returns the outgoing constraint to dst, if any.
func (b *Block) Constraint(dst symtab.ID) (Constraint, bool) {
	c, ok := b.cons[dst]
	return c, ok
}

// Constraints returns the block's outgoing constraints in insertion order.
func (b *Block) Constraints() []Constraint {
	out := make([]Constraint, 0, len(b.consOrder))
	for _, d := range b.consOrder {
		out = append(out, b.cons[d])
	}
	return out
}

// Range returns [first.Offset(), last.Offset()+last.Size()). ok is false
// for an empty block.
func (b *Block) Range() (lo, hi uint64, ok bool) {
	if len(b.Lines) == 0 {
		return 0, 0, false
	}
	first, last := b.Lines[0], b.Lines[len(b.Lines)-1]
	return first.Offset(), last.Offset() + uint64(last.Size()), true
}

// alignUp rounds o up to the next multiple of align (align must be a
// power of two).
func alignUp(o, align uint64) uint64 {
	if align <= 1 {
		return o
	}
	return (o + align - 1) &^ (align - 1)
}

// alignDown rounds o down to the previous multiple of align.
func alignDown(o, align uint64) uint64 {
	if align <= 1 {
		return o
	}
	return o &^ (align - 1)
}

// AlignUp and AlignDown are the exported forms used by placement (component G/H).
func AlignUp(o, align uint64) uint64   { return alignUp(o, align) }
func AlignDown(o, align uint64) uint64 { return alignDown(o, align) }
