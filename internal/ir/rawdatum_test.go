package ir

import (
	"testing"

	"github.com/dismach/dismach/internal/symtab"
	"github.com/dismach/dismach/internal/testing/require"
)

// Expression-backed raw data packs one little-endian field per expression,
// each the width of its declared bit size (spec §4.H step 4).
func TestRawDatumEncodePacksLittleEndian(t *testing.T) {
	pool := symtab.NewPool()
	lbl, err := pool.GetOrCreateByOffset(0x44)
	require.NoError(t, err)

	r := &RawDatum{Exprs: []Expr{
		Int{Value: 0x1122, BitSize: 16},
		Sym{Name: lbl.Name(), Label: lbl.ID(), BitSize: 8},
	}}
	require.Equal(t, int64(3), r.Size())
	require.Equal(t, []symtab.ID{lbl.ID()}, r.ReferencedLabels())

	data, err := r.Encode(pool)
	require.NoError(t, err)
	require.Equal(t, []byte{0x22, 0x11, 0x44}, data)
	require.Equal(t, data, r.Data())
}

func TestRawDatumEncodeFailsOnUnpinnedSymbol(t *testing.T) {
	pool := symtab.NewPool()
	lbl, err := pool.GetOrCreateByName("floating")
	require.NoError(t, err)

	r := &RawDatum{Exprs: []Expr{Sym{Name: "floating", Label: lbl.ID(), BitSize: 32}}}
	_, err = r.Encode(pool)
	require.ErrorIs(t, err, ErrUnresolvedSymbol)
}

func TestRawDatumLiteralBytes(t *testing.T) {
	pool := symtab.NewPool()
	r := &RawDatum{Bytes: []byte{0xde, 0xad}}
	require.Equal(t, int64(2), r.Size())
	data, err := r.Encode(pool)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad}, data)
	require.Len(t, r.ReferencedLabels(), 0)
}

// Substitution replaces identifiers and the simplifier folds the result
// to a constant (spec §6 "Expression facility").
func TestSubstituteSimplifiesToConstant(t *testing.T) {
	e := BinOp{Op: '+', Left: Sym{Name: "base", BitSize: 64}, Right: Int{Value: 2, BitSize: 64}, BitSize: 64}
	got := e.Substitute(func(name string, _ symtab.ID) (Expr, bool) {
		if name == "base" {
			return Int{Value: 40, BitSize: 64}, true
		}
		return nil, false
	})
	require.Equal(t, Int{Value: 42, BitSize: 64}, got)
}

func TestBinOpResolveAgainstPool(t *testing.T) {
	pool := symtab.NewPool()
	lbl, err := pool.GetOrCreateByOffset(0x1000)
	require.NoError(t, err)

	e := BinOp{
		Op:      '-',
		Left:    Sym{Name: lbl.Name(), Label: lbl.ID(), BitSize: 64},
		Right:   Int{Value: 0x10, BitSize: 64},
		BitSize: 64,
	}
	v, err := e.Resolve(pool)
	require.NoError(t, err)
	require.Equal(t, int64(0xff0), v)
}
