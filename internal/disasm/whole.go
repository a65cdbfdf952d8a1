package disasm

import (
	"github.com/dismach/dismach/internal/cfg"
	"github.com/dismach/dismach/internal/ir"
	"github.com/dismach/dismach/internal/symtab"
)

// WholeCFG drives the worklist over offsets: skip offsets already done,
// explicitly forbidden, or inside any dont_disassemble range; otherwise
// obtain/create a label, invoke Block, enqueue every discovered offset,
// and insert the resulting block into c. When the worklist empties (or
// the block watchdog trips), it runs the splitter across the accumulated
// CFG (spec §4.D).
func WholeCFG(
	c *cfg.CFG,
	mnemo ir.MnemonicModule,
	src ir.ByteSource,
	startOffset uint64,
	jobDone JobDone,
	pool *symtab.Pool,
	policy *ir.Policy,
) error {
	worklist := []uint64{startOffset}
	seen := make(map[uint64]struct{})
	blocksDone := 0

	for len(worklist) > 0 {
		n := worklist[0]
		worklist = worklist[1:]

		if _, ok := seen[n]; ok {
			continue
		}
		if jobDone.has(n) {
			continue
		}
		if policy.InDontDisassemble(n) {
			continue
		}
		seen[n] = struct{}{}

		if wd := policy.BlocksWatchdogValue(); wd > 0 && blocksDone >= wd {
			policy.Warnf("disasm: blocks watchdog exceeded before %#x", n)
			break
		}

		label, err := pool.GetOrCreateByOffset(n)
		if err != nil {
			return err
		}

		block, discovered, err := Block(mnemo, src, label, n, jobDone, pool, policy)
		if err != nil {
			return err
		}
		blocksDone++

		c.AddNode(block)
		worklist = append(worklist, discovered...)
	}

	_, err := cfg.Split(c, pool, allCandidateOffsets(c, pool), policy)
	return err
}

// allCandidateOffsets collects every destination offset named by any
// block's outgoing constraints, the set the splitter walks (spec §4.F
// "a set of candidate offsets (from bto of every block...)").
func allCandidateOffsets(c *cfg.CFG, pool *symtab.Pool) []uint64 {
	var out []uint64
	for _, b := range c.Blocks() {
		for _, cst := range b.Constraints() {
			if lbl := pool.Get(cst.Dst); lbl != nil {
				if off, ok := lbl.Offset(); ok {
					out = append(out, off)
				}
			}
		}
	}
	return out
}
