// Package viz renders a CFG as a textual Graphviz dot graph: one record
// node per block (label plus lines), edges colored by constraint type,
// BadBlocks highlighted (spec §6 "CFG visualization (optional)").
//
// Grounded on asmbloc.py's BasicBlocks.dot(): same node/edge shape
// (HTML-like record label, NEXT=red/TO=green/sole-successor=blue edge
// coloring, BadBlock fill), rewritten with strings.Builder and
// fmt.Fprintf in the texture of ssa.basicBlock's String()/Name() helpers
// rather than the original's HTML-table string concatenation.
package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dismach/dismach/internal/cfg"
	"github.com/dismach/dismach/internal/ir"
)

// Options controls how much detail Dot renders.
type Options struct {
	// ShowOffsets prefixes each line with its offset, in the style of the
	// original's label=true.
	ShowOffsets bool
	// ShowLines includes each block's lines in its node label. When
	// false, nodes render with just their label (and BadBlock error, if
	// any).
	ShowLines bool
}

// Dot renders c as a Graphviz dot graph string.
func Dot(c *cfg.CFG, opts Options) string {
	var b strings.Builder
	b.WriteString("digraph asm_graph {\n")

	blocks := c.Blocks()
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Key() < blocks[j].Key() })

	for _, blk := range blocks {
		writeNode(&b, blk, opts)
	}
	for _, blk := range blocks {
		writeEdges(&b, c, blk)
	}

	b.WriteString("}\n")
	return b.String()
}

func writeNode(b *strings.Builder, blk *ir.Block, opts Options) {
	name := blk.Label.String()
	fmt.Fprintf(b, "%q [\n", name)
	b.WriteString(`shape="Mrecord" fontname="Courier New" `)
	if blk.IsBad() {
		b.WriteString(`style=filled fillcolor="red" `)
	}
	b.WriteString("label=<<table border=\"0\" cellborder=\"0\" cellpadding=\"3\">")
	fmt.Fprintf(b, "<tr><td colspan=\"2\" align=\"center\" bgcolor=\"grey\">%s</td></tr>", escape(name))

	if blk.IsBad() {
		fmt.Fprintf(b, "<tr><td align=\"left\">%s</td></tr>", escape(blk.BadErr.String()))
	} else if opts.ShowLines {
		for _, line := range blk.Lines {
			writeLineRow(b, line, opts)
		}
	}

	b.WriteString("</table>> ];\n")
}

func writeLineRow(b *strings.Builder, line ir.Line, opts Options) {
	b.WriteString("<tr><td align=\"left\">")
	if opts.ShowOffsets {
		fmt.Fprintf(b, "%08X </td><td align=\"left\"> ", line.Offset())
	}
	switch v := line.(type) {
	case ir.Instruction:
		fmt.Fprintf(b, "%s", escape(instructionText(v)))
	case *ir.RawDatum:
		fmt.Fprintf(b, "db %d bytes", v.Size())
	default:
		b.WriteString("?")
	}
	b.WriteString("</td></tr>")
}

// instructionText renders an instruction's opcode and operands as plain
// text; THE CORE has no generic disassembly-listing capability (that's
// the mnemonic module's domain), so this only falls back to a best-effort
// rendering via fmt.Stringer when the instruction implements one.
func instructionText(instr ir.Instruction) string {
	if s, ok := instr.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("<%d byte(s)>", instr.Len())
}

func writeEdges(b *strings.Builder, c *cfg.CFG, blk *ir.Block) {
	src := blk.Key()
	soleSuccessor := len(blk.Constraints()) == 1
	for _, dst := range c.Successors(src) {
		kind, _ := c.EdgeType(src, dst)
		color := "black"
		switch {
		case soleSuccessor:
			color = "blue"
		case kind == ir.Next:
			color = "red"
		case kind == ir.To:
			color = "limegreen"
		}
		dstBlock := c.BlockByLabel(dst)
		dstName := fmt.Sprintf("%d", dst)
		if dstBlock != nil {
			dstName = dstBlock.Label.String()
		}
		fmt.Fprintf(b, "%q -> %q [label=%q color=%q style=\"bold\"];\n",
			blk.Label.String(), dstName, kind.String(), color)
	}
}

func escape(s string) string {
	r := strings.NewReplacer("{", "\\{", "}", "\\}", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
