// Package toyisa is a small demonstration instruction set of one- and
// two-byte instructions
// used to exercise THE CORE end-to-end: a handful of opcodes covering a
// straight-line instruction, an immediate load, an unconditional jump, a
// conditional (fallthrough + destination) branch, and a subroutine call,
// each with a single architectural delay slot on the three that touch
// control flow. Modeled on the opcode-table decode loop of
// bbcdisasm.Disassembler (OpCodesMap keyed by first byte, fixed operand
// widths per opcode) rather than on any mainstream ISA.
package toyisa

import (
	"fmt"

	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

const (
	OpNOP  byte = 0x00
	OpLOAD byte = 0x01
	OpADD  byte = 0x02
	OpRET  byte = 0x03
	OpJMP  byte = 0x10
	OpJZ   byte = 0x11
	OpCALL byte = 0x12
)

type opcodeDef struct {
	name       string
	hasOperand bool
	isBranch   bool // operand names a relative branch displacement, not a plain immediate.
	breaksFlow bool
	splitsFlow bool
	isSubcall  bool
	delaySlots int
}

var opcodes = map[byte]opcodeDef{
	OpNOP:  {name: "nop"},
	OpLOAD: {name: "load", hasOperand: true},
	OpADD:  {name: "add", hasOperand: true},
	OpRET:  {name: "ret", breaksFlow: true},
	OpJMP:  {name: "jmp", hasOperand: true, isBranch: true, breaksFlow: true, delaySlots: 1},
	OpJZ:   {name: "jz", hasOperand: true, isBranch: true, breaksFlow: true, splitsFlow: true, delaySlots: 1},
	OpCALL: {name: "call", hasOperand: true, isBranch: true, breaksFlow: true, splitsFlow: true, isSubcall: true, delaySlots: 1},
}

// Mnemonic is the toyisa MnemonicModule: a Decoder and Encoder pair with
// no instance state, satisfying ir.MnemonicModule.
type Mnemonic struct{}

func (Mnemonic) MaxInstructionLen() int { return 2 }
func (Mnemonic) DelaySlot() int         { return 0 }

// Decode reads one instruction at offset: the opcode byte selects the
// length and operand shape; unknown opcodes are reported as decode
// failures, which the single-block disassembler turns into a BadBlock
// (spec §4.C).
func (Mnemonic) Decode(src ir.ByteSource, attrib string, offset uint64) (ir.Instruction, error) {
	head, err := src.Read(offset, 1)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, nil
	}
	def, ok := opcodes[head[0]]
	if !ok {
		return nil, fmt.Errorf("toyisa: unknown opcode %#02x at %#x", head[0], offset)
	}

	length := 1
	if def.hasOperand {
		length = 2
	}
	raw, err := src.Read(offset, length)
	if err != nil {
		return nil, err
	}
	if len(raw) < length {
		return nil, fmt.Errorf("toyisa: truncated instruction at %#x", offset)
	}

	instr := &Instruction{
		op:     head[0],
		def:    def,
		offset: offset,
		length: length,
		orig:   append([]byte(nil), raw...),
	}
	if def.hasOperand {
		operand := raw[1]
		if def.isBranch {
			disp := int8(operand)
			target := int64(offset) + int64(length) + int64(disp)
			instr.arg = ir.Int{Value: target, BitSize: 64}
		} else {
			instr.arg = ir.Int{Value: int64(operand), BitSize: 8}
		}
	}
	return instr, nil
}

// Encode resolves instr's (possibly symbolic) operand and packs the
// opcode byte plus operand byte. Branch opcodes re-derive their relative
// displacement from the destination's pinned offset and the instruction's
// own (now-placed) offset, which is exactly what makes re-encoding after
// a block moves produce different bytes than the original decode (spec
// §4.H "conservative encoding" exists precisely to prefer the original
// bytes when nothing moved).
func (Mnemonic) Encode(line ir.Instruction, pool *symtab.Pool) ([][]byte, error) {
	instr, ok := line.(*Instruction)
	if !ok {
		return nil, fmt.Errorf("toyisa: foreign instruction type %T", line)
	}
	if !instr.def.hasOperand {
		return [][]byte{{instr.op}}, nil
	}

	v, err := instr.arg.Resolve(pool)
	if err != nil {
		return nil, err
	}

	if !instr.def.isBranch {
		return [][]byte{{instr.op, byte(int8(v))}}, nil
	}

	disp := v - int64(instr.offset) - int64(instr.length)
	if disp < -128 || disp > 127 {
		return nil, fmt.Errorf("toyisa: branch displacement %d out of int8 range at %#x", disp, instr.offset)
	}
	return [][]byte{{instr.op, byte(int8(disp))}}, nil
}

// Instruction is the toyisa concrete ir.Instruction.
type Instruction struct {
	op     byte
	def    opcodeDef
	offset uint64
	length int
	orig   []byte
	data   []byte
	arg    ir.Expr // nil when def.hasOperand is false.
}

func (in *Instruction) Kind() ir.LineKind { return ir.LineInstruction }
func (in *Instruction) Offset() uint64    { return in.offset }
func (in *Instruction) SetOffset(o uint64) { in.offset = o }
func (in *Instruction) Size() int64       { return int64(in.length) }

func (in *Instruction) Bytes() []byte { return in.orig }
func (in *Instruction) Len() int      { return in.length }
func (in *Instruction) SetLen(n int)  { in.length = n }

func (in *Instruction) DelaySlots() int { return in.def.delaySlots }

func (in *Instruction) Args() []ir.Expr {
	if in.arg == nil {
		return nil
	}
	return []ir.Expr{in.arg}
}

func (in *Instruction) BreaksFlow() bool { return in.def.breaksFlow }
func (in *Instruction) SplitsFlow() bool { return in.def.splitsFlow }
func (in *Instruction) HasDstFlow() bool { return in.def.isBranch }
func (in *Instruction) IsSubcall() bool  { return in.def.isSubcall }

// DstToLabel mints or looks up the label pinned at this instruction's
// target offset and rewrites its operand from a bare Int into a Sym
// bound to that label, so later passes reference the destination by
// label ID rather than by a raw address (spec §9 label-identity
// redesign).
func (in *Instruction) DstToLabel(pool *symtab.Pool) error {
	if !in.def.isBranch {
		return nil
	}
	if _, ok := in.arg.(ir.Sym); ok {
		return nil
	}
	lit, ok := in.arg.(ir.Int)
	if !ok {
		return fmt.Errorf("toyisa: branch operand is not a literal target")
	}
	lbl, err := pool.GetOrCreateByOffset(uint64(lit.Value))
	if err != nil {
		return err
	}
	in.arg = ir.Sym{Name: lbl.Name(), Label: lbl.ID(), BitSize: 64}
	return nil
}

// GetDstFlow returns the (already label-rewritten) destination operand.
func (in *Instruction) GetDstFlow(pool *symtab.Pool) []ir.Expr {
	if !in.def.isBranch || in.arg == nil {
		return nil
	}
	return []ir.Expr{in.arg}
}

// ResolveArgsWithSymbols resolves every operand against pool, turning
// symbolic destinations into their concrete pinned offsets.
func (in *Instruction) ResolveArgsWithSymbols(pool *symtab.Pool) ([]ir.Expr, error) {
	if in.arg == nil {
		return nil, nil
	}
	v, err := in.arg.Resolve(pool)
	if err != nil {
		return nil, err
	}
	return []ir.Expr{ir.Int{Value: v, BitSize: in.arg.Bits()}}, nil
}

// FixDstOffset is a no-op for toyisa: Encode re-derives the relative
// displacement directly from the operand's resolved absolute target and
// this instruction's own offset, so there is no separate cached
// displacement state to rebase.
func (in *Instruction) FixDstOffset() {}

func (in *Instruction) Data() []byte     { return in.data }
func (in *Instruction) SetData(d []byte) { in.data = d }

// String renders a disassembly-listing line, e.g. "jz loc_0000000000000006",
// used only by internal/viz's best-effort node labels.
func (in *Instruction) String() string {
	if in.arg == nil {
		return in.def.name
	}
	if sym, ok := in.arg.(ir.Sym); ok {
		return fmt.Sprintf("%s %s", in.def.name, sym.Name)
	}
	return fmt.Sprintf("%s %v", in.def.name, in.arg)
}
