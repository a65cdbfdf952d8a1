// Package dismach is a recursive-descent disassembly and reassembly
// engine: it builds a control-flow graph from a byte source, splits
// blocks on discovered branch targets, and, symmetrically, places and
// assembles a CFG back into a byte offset -> bytes map. It is generic
// over the target instruction set via the MnemonicModule capability
// interface (internal/ir); internal/toyisa is a small concrete one used
// by this module's own tests.
//
// Mirrors wazero's top-level runtime.go: a thin facade over an internal
// engine, exporting just enough surface for a caller to drive a session.
package dismach

import (
	"github.com/dismach/dismach/internal/asmfix"
	"github.com/dismach/dismach/internal/cfg"
	"github.com/dismach/dismach/internal/disasm"
	"github.com/dismach/dismach/internal/interval"
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

// Re-exported so callers don't need to import the internal packages
// directly to build a session.
type (
	// Pool is the symbol pool: the sole authority on label name/offset
	// uniqueness.
	Pool = symtab.Pool
	// CFG is the control-flow graph container.
	CFG = cfg.CFG
	// Policy groups every engine knob into one by-reference record.
	Policy = ir.Policy
	// MnemonicModule is the per-architecture decode/encode capability set
	// the engine is generic over.
	MnemonicModule = ir.MnemonicModule
	// ByteSource is a synchronous random-access (offset, length) -> bytes
	// read.
	ByteSource = ir.ByteSource
	// Interval is a half-open [Lo, Hi) destination range for placement.
	Interval = interval.Interval
)

// NewPool returns an empty symbol pool.
func NewPool() *Pool { return symtab.NewPool() }

// NewCFG returns an empty CFG.
func NewCFG() *CFG { return cfg.New() }

// Session bundles the mutable state a single disassemble/reassemble
// round trip shares: the symbol pool, the CFG under construction, the
// set of already-decoded offsets, and the mnemonic module/policy pair
// every call is generic over (spec §5 "shared resources").
type Session struct {
	Pool   *Pool
	CFG    *CFG
	Mnemo  MnemonicModule
	Policy *Policy

	jobDone disasm.JobDone
}

// NewSession returns a ready-to-use Session with a fresh pool and CFG.
func NewSession(mnemo MnemonicModule, policy *Policy) *Session {
	return &Session{
		Pool:    symtab.NewPool(),
		CFG:     cfg.New(),
		Mnemo:   mnemo,
		Policy:  policy,
		jobDone: make(disasm.JobDone),
	}
}

// Disassemble grows s.CFG by recursive-descent from startOffset, reading
// instructions from src, until the worklist drains, then splits blocks
// on every discovered branch target (spec §4.D "whole-CFG disassembler").
func (s *Session) Disassemble(src ByteSource, startOffset uint64) error {
	return disasm.WholeCFG(s.CFG, s.Mnemo, src, startOffset, s.jobDone, s.Pool, s.Policy)
}

// Block disassembles a single basic block starting at offset and
// inserts it into s.CFG, returning the offsets it discovered for
// further disassembly (spec §4.C). Most callers want Disassemble
// instead; Block is exposed for callers driving their own worklist.
func (s *Session) Block(src ByteSource, offset uint64) ([]uint64, error) {
	label, err := s.Pool.GetOrCreateByOffset(offset)
	if err != nil {
		return nil, err
	}
	block, discovered, err := disasm.Block(s.Mnemo, src, label, offset, s.jobDone, s.Pool, s.Policy)
	if err != nil {
		return nil, err
	}
	s.CFG.AddNode(block)
	return discovered, nil
}

// Assemble runs the full placement + assembly fixpoint over s.CFG and
// returns the final offset -> bytes map (spec §4.G, §4.H). dstInterval
// may be nil to allow the full uint64 address space.
func (s *Session) Assemble(dstInterval *Interval) (map[uint64][]byte, error) {
	return asmfix.Resolve(s.CFG, s.Pool, s.Mnemo, s.Policy, dstInterval)
}
