package symtab

import (
	"errors"
	"fmt"

	"github.com/dismach/dismach/internal/poolutil"
)

// ErrConflict is returned (wrapped with context) whenever add/rename/pin
// would violate the pool's name or offset uniqueness invariant (spec §7
// SymbolConflict).
var ErrConflict = errors.New("symbol conflict")

// ErrNotFound is returned by operations that require an existing label.
var ErrNotFound = errors.New("label not found")

// Pool interns labels by name and/or offset. It is the sole authority on
// name/offset uniqueness (spec §4.A, §5 "shared resources").
type Pool struct {
	storage    poolutil.Pool[Label]
	byName     map[string]ID
	byOffset   map[uint64]ID
	nextID     ID
	anonSeq    uint32
	generation uint64 // bumped whenever name/offset indices change; unused externally, kept for future cache invalidation.
}

// NewPool returns an empty symbol pool.
func NewPool() *Pool {
	p := &Pool{
		byName:   make(map[string]ID),
		byOffset: make(map[uint64]ID),
		nextID:   1,
	}
	p.storage = poolutil.New[Label](func(l *Label) { *l = Label{} })
	return p
}

// Get returns the label for id, or nil if unknown.
func (p *Pool) Get(id ID) *Label {
	if id == Invalid || int(id) > p.storage.Allocated() {
		return nil
	}
	return p.storage.View(int(id - 1))
}

// GetByName returns the label named n, if any.
func (p *Pool) GetByName(n string) *Label {
	if n == "" {
		return nil
	}
	id, ok := p.byName[n]
	if !ok {
		return nil
	}
	return p.Get(id)
}

// GetByOffset returns the label pinned at offset o, if any.
func (p *Pool) GetByOffset(o uint64) *Label {
	id, ok := p.byOffset[o]
	if !ok {
		return nil
	}
	return p.Get(id)
}

// Add interns a new label. name may be empty. If offset is non-nil the
// label is pinned at that offset. Fails with ErrConflict if name or offset
// is already in use.
func (p *Pool) Add(name string, offset *uint64) (*Label, error) {
	if name != "" {
		if _, ok := p.byName[name]; ok {
			return nil, fmt.Errorf("%w: name %q already in use", ErrConflict, name)
		}
	}
	if offset != nil {
		if _, ok := p.byOffset[*offset]; ok {
			return nil, fmt.Errorf("%w: offset %#x already in use", ErrConflict, *offset)
		}
	}
	l := p.storage.Allocate()
	l.id = p.nextID
	p.nextID++
	l.name = name
	if offset != nil {
		off := *offset
		l.offset = &off
	}
	if name != "" {
		p.byName[name] = l.id
	}
	if offset != nil {
		p.byOffset[*offset] = l.id
	}
	p.generation++
	return l, nil
}

// Remove deletes a label entirely, clearing both indices.
func (p *Pool) Remove(l *Label) {
	if l == nil {
		return
	}
	if l.name != "" {
		delete(p.byName, l.name)
	}
	if l.offset != nil {
		delete(p.byOffset, *l.offset)
	}
	l.name = ""
	l.offset = nil
	p.generation++
}

// Unpin clears the offset->label index entry; the label survives under its
// name, if any (spec §3 "Unpinning clears the offset→label index entry").
func (p *Pool) Unpin(l *Label) {
	if l == nil || l.offset == nil {
		return
	}
	delete(p.byOffset, *l.offset)
	l.offset = nil
	p.generation++
}

// Rename changes a label's name. Fails with ErrConflict if newName is
// already used by a different label.
func (p *Pool) Rename(l *Label, newName string) error {
	if l == nil {
		return ErrNotFound
	}
	if newName != "" {
		if existing, ok := p.byName[newName]; ok && existing != l.id {
			return fmt.Errorf("%w: name %q already in use", ErrConflict, newName)
		}
	}
	if l.name != "" {
		delete(p.byName, l.name)
	}
	l.name = newName
	if newName != "" {
		p.byName[newName] = l.id
	}
	p.generation++
	return nil
}

// Pin assigns a concrete offset to a label. Fails with ErrConflict if the
// offset is already used by a different label.
func (p *Pool) Pin(l *Label, offset uint64) error {
	if l == nil {
		return ErrNotFound
	}
	if existing, ok := p.byOffset[offset]; ok && existing != l.id {
		return fmt.Errorf("%w: offset %#x already in use", ErrConflict, offset)
	}
	if l.offset != nil {
		delete(p.byOffset, *l.offset)
	}
	off := offset
	l.offset = &off
	p.byOffset[offset] = l.id
	p.generation++
	return nil
}

// GetOrCreateByName returns the label named n, creating an unpinned one if
// absent.
func (p *Pool) GetOrCreateByName(n string) (*Label, error) {
	if l := p.GetByName(n); l != nil {
		return l, nil
	}
	return p.Add(n, nil)
}

// GetOrCreateByOffset returns the label pinned at o, creating one with the
// default name loc_<16-hex> if absent (spec §4.A).
func (p *Pool) GetOrCreateByOffset(o uint64) (*Label, error) {
	if l := p.GetByOffset(o); l != nil {
		return l, nil
	}
	name := locName(o)
	// The default name can collide with a user-chosen label of the same
	// name but a different (or no) offset; fall back to an anonymous name
	// in that case rather than failing the whole lookup.
	if existing := p.GetByName(name); existing != nil {
		name = p.GenAnonymous()
	}
	off := o
	return p.Add(name, &off)
}

// GenAnonymous synthesizes a unique name of the form lbl_gen_XXXXXXXX and
// returns it without interning a label (spec §4.A).
func (p *Pool) GenAnonymous() string {
	for {
		p.anonSeq++
		name := fmt.Sprintf("lbl_gen_%08x", p.anonSeq)
		if _, ok := p.byName[name]; !ok {
			return name
		}
	}
}

// Merge imports every label from other that isn't already present by name
// or offset, and returns a mapping from other's IDs to this pool's IDs for
// labels that were imported or already matched by name/offset.
func (p *Pool) Merge(other *Pool) (map[ID]ID, error) {
	mapping := make(map[ID]ID, other.storage.Allocated())
	for i := 0; i < other.storage.Allocated(); i++ {
		src := other.storage.View(i)
		if src.name == "" && src.offset == nil {
			continue // already removed from the source pool.
		}
		if src.offset != nil {
			if existing := p.GetByOffset(*src.offset); existing != nil {
				mapping[src.id] = existing.id
				continue
			}
		}
		if src.name != "" {
			if existing := p.GetByName(src.name); existing != nil {
				mapping[src.id] = existing.id
				continue
			}
		}
		dst, err := p.Add(src.name, src.offset)
		if err != nil {
			return nil, err
		}
		dst.attrib = src.attrib
		mapping[src.id] = dst.id
	}
	return mapping, nil
}

// Each calls fn for every live label in the pool, in ID order. Removed
// labels keep their slot (IDs stay stable) but are skipped here.
func (p *Pool) Each(fn func(*Label)) {
	for i := 0; i < p.storage.Allocated(); i++ {
		l := p.storage.View(i)
		if l.name == "" && l.offset == nil {
			continue
		}
		fn(l)
	}
}

// Len returns the number of labels ever allocated (including removed ones,
// whose slots are kept to preserve ID stability).
func (p *Pool) Len() int { return p.storage.Allocated() }
