package compiler

import (
	"math"

	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Control flow graph rewrites
// ---------------------------------------------------------------------------

// cfgInstr is one decoded instruction of the function being rewritten.
type cfgInstr struct {
	in     vm.Instruction
	target int // index of the jump target instruction, len(instrs) for the end
	span   Span
	dead   bool
}

// optimize rewrites fn in place: jumps to unconditional jumps are
// threaded, unreachable instructions dropped and trivial sequences
// removed. The original code is kept if it cannot be decoded or the
// result cannot be encoded.
func optimize(fn *vm.Function) {
	instrs, ok := decodeFunction(fn)
	if !ok || len(instrs) == 0 {
		return
	}
	for changed := true; changed; {
		changed = threadJumps(instrs)
		changed = removeUnreachable(instrs) || changed
		changed = peephole(instrs) || changed
		instrs = compact(instrs)
	}
	code, debug, ok := encodeFunction(instrs)
	if !ok {
		return
	}
	fn.Code = code
	fn.Debug = debug
}

func decodeFunction(fn *vm.Function) ([]*cfgInstr, bool) {
	var instrs []*cfgInstr
	index := make(map[int]int)
	for pos := 0; pos < len(fn.Code); {
		in, err := vm.Decode(fn.Code, pos)
		if err != nil {
			return nil, false
		}
		index[pos] = len(instrs)
		instrs = append(instrs, &cfgInstr{in: in, target: -1, span: fn.SpanAt(pos)})
		pos += in.Size
	}
	index[len(fn.Code)] = len(instrs)
	for _, ci := range instrs {
		if ci.in.Op.IsJump() {
			t, ok := index[ci.in.Target()]
			if !ok {
				return nil, false
			}
			ci.target = t
		}
	}
	return instrs, true
}

// threadJumps retargets jumps whose target is an unconditional jump.
func threadJumps(instrs []*cfgInstr) bool {
	changed := false
	for _, ci := range instrs {
		if ci.target < 0 {
			continue
		}
		seen := map[int]bool{}
		t := ci.target
		for t < len(instrs) && instrs[t].in.Op == vm.OpJump && !seen[t] {
			seen[t] = true
			t = instrs[t].target
		}
		if t != ci.target {
			ci.target = t
			changed = true
		}
	}
	return changed
}

// removeUnreachable marks instructions no path from the entry reaches.
func removeUnreachable(instrs []*cfgInstr) bool {
	reached := make([]bool, len(instrs))
	work := []int{0}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		for i < len(instrs) && !reached[i] {
			reached[i] = true
			ci := instrs[i]
			if ci.target >= 0 {
				work = append(work, ci.target)
			}
			if ci.in.Op.Terminates() {
				break
			}
			i++
		}
	}
	changed := false
	for i, ci := range instrs {
		if !reached[i] && !ci.dead {
			ci.dead = true
			changed = true
		}
	}
	return changed
}

// pureOps push a value without side effects or faults.
var pureOps = map[vm.Opcode]bool{
	vm.OpPushUnit:    true,
	vm.OpPushTrue:    true,
	vm.OpPushFalse:   true,
	vm.OpPushInt8:    true,
	vm.OpPushConst:   true,
	vm.OpLoadLocal:   true,
	vm.OpLoadUpvalue: true,
	vm.OpLoadFn:      true,
	vm.OpLoadImport:  true,
	vm.OpDup:         true,
}

func peephole(instrs []*cfgInstr) bool {
	targeted := make(map[int]bool)
	for _, ci := range instrs {
		if ci.target >= 0 && !ci.dead {
			targeted[ci.target] = true
		}
	}
	changed := false
	for i, ci := range instrs {
		if ci.dead {
			continue
		}
		switch {
		case ci.in.Op == vm.OpNop:
			ci.dead = true
			changed = true
		case ci.in.Op == vm.OpJump && ci.target == nextLive(instrs, i):
			ci.dead = true
			changed = true
		case pureOps[ci.in.Op]:
			j := nextLive(instrs, i)
			if j < len(instrs) && instrs[j].in.Op == vm.OpPop && !targeted[j] && noTargetsBetween(targeted, i, j) {
				ci.dead = true
				instrs[j].dead = true
				changed = true
			}
		}
	}
	return changed
}

func nextLive(instrs []*cfgInstr, i int) int {
	for j := i + 1; j < len(instrs); j++ {
		if !instrs[j].dead {
			return j
		}
	}
	return len(instrs)
}

func noTargetsBetween(targeted map[int]bool, i, j int) bool {
	for k := i + 1; k < j; k++ {
		if targeted[k] {
			return false
		}
	}
	return true
}

// compact drops dead instructions, pointing jumps at the next live one.
func compact(instrs []*cfgInstr) []*cfgInstr {
	remap := make([]int, len(instrs)+1)
	n := 0
	for i, ci := range instrs {
		remap[i] = n
		if !ci.dead {
			n++
		}
	}
	remap[len(instrs)] = n
	out := make([]*cfgInstr, 0, n)
	for _, ci := range instrs {
		if ci.dead {
			continue
		}
		if ci.target >= 0 {
			ci.target = remap[ci.target]
		}
		out = append(out, ci)
	}
	return out
}

func encodeFunction(instrs []*cfgInstr) ([]byte, []vm.DebugEntry, bool) {
	offsets := make([]int, len(instrs)+1)
	for i, ci := range instrs {
		offsets[i+1] = offsets[i] + ci.in.Size
	}
	var code []byte
	var debug []vm.DebugEntry
	for i, ci := range instrs {
		in := ci.in
		in.Operands = append([]int(nil), in.Operands...)
		if ci.target >= 0 {
			rel := offsets[ci.target] - offsets[i+1]
			if rel < math.MinInt16 || rel > math.MaxInt16 {
				return nil, nil, false
			}
			for k, kind := range in.Op.Info().Operands {
				if kind == vm.OperandOffset {
					in.Operands[k] = rel
				}
			}
		}
		if n := len(debug); n == 0 || debug[n-1].Span != ci.span {
			debug = append(debug, vm.DebugEntry{Offset: offsets[i], Span: ci.span})
		}
		code = in.Encode(code)
	}
	return code, debug, true
}
