// Package ir holds the core data model shared by the disassembler, CFG
// container and assembler: constraints, blocks, raw data and the narrow
// capability interfaces the mnemonic module and byte source must satisfy
// (spec §3 "Data model", §6 "External interfaces").
package ir

import (
	"fmt"

	"github.com/dismach/dismach/internal/symtab"
)

// ConstraintKind tags a directed relation from a block to a destination
// label (spec §3 "Constraint").
type ConstraintKind uint8

const (
	// Next is the physical-fallthrough constraint: the target must
	// immediately follow the source in memory.
	Next ConstraintKind = iota
	// To is a logical branch target with no placement implication.
	To
)

func (k ConstraintKind) String() string {
	if k == Next {
		return "NEXT"
	}
	return "TO"
}

// stronger reports whether a takes priority over b when both constrain the
// same destination (spec §3: "when both types converge... NEXT wins").
func (k ConstraintKind) stronger(other ConstraintKind) bool {
	return k == Next && other == To
}

// Constraint is a single outgoing edge from a block to a destination label.
type Constraint struct {
	Kind_ ConstraintKind
	Dst   symtab.ID
}

func NewConstraint(kind ConstraintKind, dst symtab.ID) Constraint {
	return Constraint{Kind_: kind, Dst: dst}
}

func (c Constraint) Kind() ConstraintKind { return c.Kind_ }

func (c Constraint) String() string {
	return fmt.Sprintf("%s:%d", c.Kind_, c.Dst)
}

// FixConstraints deduplicates raw constraints per destination label,
// keeping NEXT over TO when both were produced for the same destination
// (spec §4.C step "fix_constraints"; §8 "Constraint filter").
func FixConstraints(raw []Constraint) []Constraint {
	byDst := make(map[symtab.ID]Constraint, len(raw))
	order := make([]symtab.ID, 0, len(raw))
	for _, c := range raw {
		existing, ok := byDst[c.Dst]
		if !ok {
			byDst[c.Dst] = c
			order = append(order, c.Dst)
			continue
		}
		if c.Kind_.stronger(existing.Kind_) {
			byDst[c.Dst] = c
		}
	}
	out := make([]Constraint, 0, len(order))
	for _, d := range order {
		out = append(out, byDst[d])
	}
	return out
}
