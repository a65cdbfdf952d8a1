package ir

import (
	"errors"
	"fmt"

	"github.com/dismach/dismach/internal/symtab"
)

// ErrUnresolvedSymbol is returned when an expression does not collapse to
// an integer (spec §7 "UnresolvedSymbol").
var ErrUnresolvedSymbol = errors.New("unresolved symbol")

// Expr is the narrow expression facility THE CORE depends on: integer
// literals (with a declared bit size) and symbolic identifiers whose name
// may resolve to a pinned Label, plus substitution/simplification (spec §6
// "Expression facility").
type Expr interface {
	// Bits is the expression's declared bit size (8, 16, 32, 64, ...),
	// used to decide how many bytes a RawDatum fixup occupies.
	Bits() int
	// Resolve evaluates the expression against pool, failing with
	// ErrUnresolvedSymbol if any referenced label is unpinned.
	Resolve(pool *symtab.Pool) (int64, error)
	// Substitute returns a copy of the expression with every symbolic
	// identifier replaced by sub's result, then simplified.
	Substitute(sub func(name string, lbl symtab.ID) (Expr, bool)) Expr
	// Labels returns every label ID this expression (transitively)
	// references.
	Labels() []symtab.ID
}

// Int is an integer literal of a declared bit width.
type Int struct {
	Value int64
	BitSize int
}

func (i Int) Bits() int { return i.BitSize }

func (i Int) Resolve(*symtab.Pool) (int64, error) { return i.Value, nil }

func (i Int) Substitute(func(string, symtab.ID) (Expr, bool)) Expr { return i }

func (i Int) Labels() []symtab.ID { return nil }

func (i Int) String() string { return fmt.Sprintf("%d", i.Value) }

// Sym is a symbolic identifier: a bare name, or a name bound to a concrete
// label in a pool.
type Sym struct {
	Name    string
	Label   symtab.ID
	BitSize int
}

func (s Sym) Bits() int { return s.BitSize }

func (s Sym) Resolve(pool *symtab.Pool) (int64, error) {
	l := pool.Get(s.Label)
	if l == nil {
		return 0, fmt.Errorf("%w: %q has no label binding", ErrUnresolvedSymbol, s.Name)
	}
	off, ok := l.Offset()
	if !ok {
		return 0, fmt.Errorf("%w: %q is not pinned", ErrUnresolvedSymbol, s.Name)
	}
	return int64(off), nil
}

func (s Sym) Substitute(sub func(string, symtab.ID) (Expr, bool)) Expr {
	if repl, ok := sub(s.Name, s.Label); ok {
		return repl.Substitute(sub)
	}
	return s
}

func (s Sym) Labels() []symtab.ID {
	if s.Label == symtab.Invalid {
		return nil
	}
	return []symtab.ID{s.Label}
}

func (s Sym) String() string { return s.Name }

// BinOp is a simplification-friendly binary arithmetic node (+, -), enough
// to express "symbol + constant displacement" operands without pulling in
// a full expression-simplification engine (that facility is an external
// collaborator per spec §6 and §1).
type BinOp struct {
	Op          byte // '+' or '-'
	Left, Right Expr
	BitSize     int
}

func (b BinOp) Bits() int { return b.BitSize }

func (b BinOp) Resolve(pool *symtab.Pool) (int64, error) {
	l, err := b.Left.Resolve(pool)
	if err != nil {
		return 0, err
	}
	r, err := b.Right.Resolve(pool)
	if err != nil {
		return 0, err
	}
	if b.Op == '-' {
		return l - r, nil
	}
	return l + r, nil
}

func (b BinOp) Substitute(sub func(string, symtab.ID) (Expr, bool)) Expr {
	return Simplify(BinOp{Op: b.Op, Left: b.Left.Substitute(sub), Right: b.Right.Substitute(sub), BitSize: b.BitSize})
}

func (b BinOp) Labels() []symtab.ID {
	return append(append([]symtab.ID{}, b.Left.Labels()...), b.Right.Labels()...)
}

// Simplify normalizes an expression: a BinOp of two Ints folds to an Int.
// Anything else is returned unchanged, matching the "visitor that
// substitutes identifiers and a simplifier that normalizes results"
// contract without speculatively implementing a general simplifier (spec
// §6; that facility is an external collaborator, narrowed to what THE CORE
// actually needs: constant folding after substitution).
func Simplify(e Expr) Expr {
	b, ok := e.(BinOp)
	if !ok {
		return e
	}
	li, lok := b.Left.(Int)
	ri, rok := b.Right.(Int)
	if !lok || !rok {
		return b
	}
	if b.Op == '-' {
		return Int{Value: li.Value - ri.Value, BitSize: b.BitSize}
	}
	return Int{Value: li.Value + ri.Value, BitSize: b.BitSize}
}
