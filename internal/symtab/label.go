// Package symtab implements the symbol pool: the sole authority on label
// name/offset uniqueness (spec §3 "Label", §4.A "Symbol pool").
package symtab

import "fmt"

// ID is a label's identity inside a Pool. Cross-block references use IDs,
// never pointers into the pool, so two constraints naming the same
// destination always compare equal by ID (spec §9, "label identity by
// shared reference ... re-expressed as label IDs").
type ID uint32

// Invalid is never allocated by a Pool.
const Invalid ID = 0

// Label is a symbolic address: a name, an optional pinned offset, and an
// optional architecture attribute (spec §3 "Label").
type Label struct {
	id     ID
	name   string
	offset *uint64
	attrib string
}

// ID returns this label's pool-unique identity.
func (l *Label) ID() ID { return l.id }

// Name returns the label's name, possibly empty.
func (l *Label) Name() string { return l.name }

// Offset returns the pinned offset and whether one is set.
func (l *Label) Offset() (uint64, bool) {
	if l.offset == nil {
		return 0, false
	}
	return *l.offset, true
}

// Attrib returns the optional architecture attribute.
func (l *Label) Attrib() string { return l.attrib }

// SetAttrib sets the architecture attribute. Attributes carry no uniqueness
// invariant, so this never fails.
func (l *Label) SetAttrib(a string) { l.attrib = a }

func (l *Label) String() string {
	if l.name != "" {
		return l.name
	}
	if l.offset != nil {
		return locName(*l.offset)
	}
	return fmt.Sprintf("lbl_%d", l.id)
}

// locName is the default name synthesized for an offset-derived label:
// loc_<16-hex> (spec §4.A).
func locName(off uint64) string {
	return fmt.Sprintf("loc_%016x", off)
}
