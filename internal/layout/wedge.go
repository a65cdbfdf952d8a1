package layout

// Wedge is a pseudo-chain occupying a forbidden address range during
// placement; it can never hold blocks (spec §3 "Wedge").
type Wedge struct {
	offset, size uint64
}

// NewWedge returns a wedge covering [offset, offset+size).
func NewWedge(offset, size uint64) *Wedge { return &Wedge{offset: offset, size: size} }

func (w *Wedge) OffsetMin() uint64 { return w.offset }
func (w *Wedge) OffsetMax() uint64 { return w.offset + w.size }
