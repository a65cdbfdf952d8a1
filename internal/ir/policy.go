package ir

// Policy groups every knob the engine exposes into one by-reference
// configuration record; there is no global state (spec §6 "Policy knobs",
// §9 "Callbacks and policy knobs are grouped into one configuration
// record").
type Policy struct {
	// DontDisassemble lists offsets and half-open ranges that are never
	// entered.
	DontDisassemble []OffsetOrRange
	// SplitAt offsets force block termination with a NEXT edge once
	// encountered after a block's first line.
	SplitAt map[uint64]struct{}
	// FollowCall, when set, adds call-target addresses as TO edges.
	FollowCall bool
	// DontDisassembleReturnOfCall suppresses the fallthrough edge of
	// subcall instructions.
	DontDisassembleReturnOfCall bool
	// LinesWatchdog bounds the number of lines decoded in a single block;
	// 0 means unbounded.
	LinesWatchdog int
	// BlocksWatchdog bounds the number of blocks a whole-CFG session will
	// decode; 0 means unbounded.
	BlocksWatchdog int
	// DontDisNulstartBlock treats an all-zero-byte instruction as a
	// bad-block terminator.
	DontDisNulstartBlock bool
	// PostBlockCallback, if set, is notified after each block is decoded.
	PostBlockCallback func(*Block)
	// SplitDetectFlowTail resolves the splitter's open question (spec §9):
	// false replicates the source's (arguably accidental) conservative
	// behavior of never treating a block's tail as flow-modifying; true
	// implements the evidently-intended scan of the last delayslot+1
	// lines for SplitsFlow||BreaksFlow.
	SplitDetectFlowTail bool
	// Warn receives non-fatal diagnostics (SplitMidInstruction, watchdog
	// trips, ...). Defaults to a no-op if nil.
	Warn func(format string, args ...interface{})
	// PadByte fills inter-block alignment gaps during final flattening.
	PadByte byte
	// Conservative enables conservative re-encoding (spec §4.H): prefer a
	// same-length candidate over the encoder's first choice.
	Conservative bool
}

// OffsetOrRange is either a single offset (matched by Lo alone; Hi is
// ignored) or a half-open [Lo, Hi) range, per spec §6 ("a list whose
// elements are either single offsets or (lo, hi) half-open ranges").
type OffsetOrRange struct {
	Lo, Hi uint64
	// IsRange distinguishes a bare offset (false) from a [Lo,Hi) range
	// (true); the values of Lo and Hi alone do not tell them apart.
	IsRange bool
}

// Contains reports whether o falls inside this entry.
func (r OffsetOrRange) Contains(o uint64) bool {
	if !r.IsRange {
		return o == r.Lo
	}
	return o >= r.Lo && o < r.Hi
}

func (p *Policy) warn(format string, args ...interface{}) {
	if p != nil && p.Warn != nil {
		p.Warn(format, args...)
	}
}

// Warnf is the exported form used by other packages that only hold a
// *Policy (avoids exposing the lowercase method across package
// boundaries).
func (p *Policy) Warnf(format string, args ...interface{}) { p.warn(format, args...) }

// InDontDisassemble reports whether o is covered by any DontDisassemble
// entry.
func (p *Policy) InDontDisassemble(o uint64) bool {
	if p == nil {
		return false
	}
	for _, r := range p.DontDisassemble {
		if r.Contains(o) {
			return true
		}
	}
	return false
}

// InSplitAt reports whether o is a configured split offset.
func (p *Policy) InSplitAt(o uint64) bool {
	if p == nil || p.SplitAt == nil {
		return false
	}
	_, ok := p.SplitAt[o]
	return ok
}

// linesWatchdog and blocksWatchdog tolerate a nil Policy (treated as
// "no policy", i.e. every knob at its zero value).
func (p *Policy) linesWatchdog() int {
	if p == nil {
		return 0
	}
	return p.LinesWatchdog
}

func (p *Policy) blocksWatchdog() int {
	if p == nil {
		return 0
	}
	return p.BlocksWatchdog
}

// LinesWatchdogValue exposes the per-block line budget (0 = unbounded).
func (p *Policy) LinesWatchdogValue() int { return p.linesWatchdog() }

// BlocksWatchdogValue exposes the per-session block budget (0 = unbounded).
func (p *Policy) BlocksWatchdogValue() int { return p.blocksWatchdog() }
