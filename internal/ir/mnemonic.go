package ir

import "github.com/dismach/dismach/internal/symtab"

// LineKind tags the two concrete shapes a Block line can take, replacing
// the original's dynamic dispatch with a small closed tag (spec §9
// "Dynamic dispatch on lines ... becomes a tagged variant").
type LineKind uint8

const (
	LineInstruction LineKind = iota
	LineRaw
)

// Line is anything that can occupy a slot in a Block: an Instruction or a
// RawDatum.
type Line interface {
	Kind() LineKind
	// Size returns the line's current encoded size in bytes.
	Size() int64
	Offset() uint64
	SetOffset(uint64)
}

// Instruction is the opaque object the mnemonic module hands back from
// Decode. THE CORE never interprets instruction semantics; it only calls
// these capabilities (spec §6 "Mnemonic module").
type Instruction interface {
	Line

	// Bytes returns the original decoded bytes, if known (nil otherwise).
	Bytes() []byte
	// Len returns the instruction's encoded length in bytes.
	Len() int
	SetLen(int)
	// DelaySlots is the architectural delay-slot count carried by this
	// specific instruction (e.g. a branch's own delayslot attribute).
	DelaySlots() int
	// Args returns the operand list.
	Args() []Expr

	BreaksFlow() bool
	SplitsFlow() bool
	HasDstFlow() bool
	IsSubcall() bool

	// DstToLabel rewrites immediate destination operands in place as
	// labels, minting them in pool if necessary.
	DstToLabel(pool *symtab.Pool) error
	// GetDstFlow returns the destination expressions of this instruction.
	GetDstFlow(pool *symtab.Pool) []Expr
	// ResolveArgsWithSymbols returns the operand list with label operands
	// replaced by their pinned offsets.
	ResolveArgsWithSymbols(pool *symtab.Pool) ([]Expr, error)
	// FixDstOffset rebases relative branch operands using this
	// instruction's own (now-placed) Offset.
	FixDstOffset()

	// Data returns the final encoded bytes, valid after assembly.
	Data() []byte
	SetData([]byte)
}

// Decoder decodes one instruction at a time from a byte source.
type Decoder interface {
	// Decode attempts to decode a single instruction at offset. A nil
	// Instruction with a nil error means "nothing decodable" (e.g. the
	// byte source had no data); any other failure is returned as an error.
	Decode(src ByteSource, attrib string, offset uint64) (Instruction, error)
	// MaxInstructionLen is the longest encoding this ISA ever produces,
	// used by guess_blocks_size when a symbol cannot yet be resolved.
	MaxInstructionLen() int
	// DelaySlot is the ISA's architectural delay-slot count, used to seed
	// an instruction's slot counter absent a more specific value.
	DelaySlot() int
}

// Encoder re-encodes a resolved instruction into one or more candidate
// byte strings (spec §4.H "conservative encoding").
type Encoder interface {
	// Encode returns every valid encoding of instr, given its (already
	// symbol-resolved) operands. The first candidate is the encoder's
	// preferred one.
	Encode(instr Instruction, pool *symtab.Pool) ([][]byte, error)
}

// MnemonicModule is the full per-architecture capability set THE CORE is
// generic over.
type MnemonicModule interface {
	Decoder
	Encoder
}

// ByteSource is a synchronous random-access read of (offset, length) ->
// bytes (spec §6 "Byte source").
type ByteSource interface {
	Read(offset uint64, length int) ([]byte, error)
}
