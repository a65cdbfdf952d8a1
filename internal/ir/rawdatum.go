package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/dismach/dismach/internal/symtab"
)

// RawDatum is an alternative block line representing pre-encoded bytes or a
// list of integer-typed expressions to be fixed up at assembly time (spec
// §3 "Raw datum").
type RawDatum struct {
	// Bytes holds pre-encoded content. Mutually exclusive with Exprs.
	Bytes []byte
	// Exprs, when Bytes is nil, is packed little-endian at assembly time,
	// one fixed-width field per expression (spec §4.H step 4).
	Exprs []Expr

	offset uint64
	data   []byte
}

func (r *RawDatum) Kind() LineKind { return LineRaw }

func (r *RawDatum) Offset() uint64     { return r.offset }
func (r *RawDatum) SetOffset(o uint64) { r.offset = o }

// Size returns the encoded size on demand (spec §3): the literal byte
// count, or the sum of each expression's declared bit width in bytes.
func (r *RawDatum) Size() int64 {
	if r.Bytes != nil {
		return int64(len(r.Bytes))
	}
	var n int64
	for _, e := range r.Exprs {
		n += int64(e.Bits() / 8)
	}
	return n
}

// ReferencedLabels collects every label ID any expression transitively
// names, used to build the label -> referencing-blocks index the
// assembly fixpoint needs (SPEC_FULL supplement #2, grounded on
// asmbloc.py's bloc_data.getr).
func (r *RawDatum) ReferencedLabels() []symtab.ID {
	var out []symtab.ID
	for _, e := range r.Exprs {
		out = append(out, e.Labels()...)
	}
	return out
}

// Encode resolves every expression against pool and packs the result
// little-endian per its declared width, or returns the literal Bytes.
func (r *RawDatum) Encode(pool *symtab.Pool) ([]byte, error) {
	if r.Bytes != nil {
		r.data = r.Bytes
		return r.data, nil
	}
	buf := make([]byte, 0, r.Size())
	for _, e := range r.Exprs {
		v, err := e.Resolve(pool)
		if err != nil {
			return nil, err
		}
		width := e.Bits() / 8
		tmp := make([]byte, 8)
		binary.LittleEndian.PutUint64(tmp, uint64(v))
		if width > 8 || width <= 0 {
			return nil, fmt.Errorf("ir: unsupported expression width %d bits", e.Bits())
		}
		buf = append(buf, tmp[:width]...)
	}
	r.data = buf
	return buf, nil
}

// Data returns the bytes produced by the last Encode call.
func (r *RawDatum) Data() []byte { return r.data }
