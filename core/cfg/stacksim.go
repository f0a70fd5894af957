package cfg

import (
	"github.com/holiman/uint256"

	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/opcodes"
)

// ValueKind tags an abstract stack value produced by block simulation.
type ValueKind int

const (
	Konst   ValueKind = iota // compile-time constant (PUSH immediate or folded)
	Caller                   // result of CALLER
	Origin                   // result of ORIGIN
	Storage                  // result of SLOAD; Args[0] is the slot value
	Expr                     // opcode applied to operands that did not fold
	Unknown                  // anything beyond the abstraction
)

// Value is an abstract stack slot. Konst values carry U; Expr and Storage
// values keep their producing opcode and operand tree so later stages can ask
// where an operand ultimately came from, one level at a time.
type Value struct {
	Kind ValueKind
	U    *uint256.Int
	Op   opcodes.ByteCode
	Args []*Value
}

var unknownValue = &Value{Kind: Unknown}

func konst(u *uint256.Int) *Value {
	return &Value{Kind: Konst, U: u}
}

// AsUint64 attempts to fold v into a concrete uint64 by recursively
// evaluating a small subset of operations over constant operands. The
// recursion is bounded by budget so adversarial operand chains cannot turn
// resolution into unbounded search.
func (v *Value) AsUint64(budget int) (uint64, bool) {
	u, ok := v.fold(budget)
	if !ok {
		return 0, false
	}
	out, overflow := u.Uint64WithOverflow()
	if overflow {
		return 0, false
	}
	return out, true
}

// AsUint256 folds v into a full-width constant under the same budget rules
// as AsUint64.
func (v *Value) AsUint256(budget int) (*uint256.Int, bool) {
	return v.fold(budget)
}

func (v *Value) fold(budget int) (*uint256.Int, bool) {
	if v == nil || budget <= 0 {
		return nil, false
	}
	switch v.Kind {
	case Konst:
		return v.U, true
	case Expr:
		// fall through to operator evaluation below
	default:
		return nil, false
	}
	if len(v.Args) < 2 {
		return nil, false
	}
	a, okA := v.Args[0].fold(budget - 1)
	b, okB := v.Args[1].fold(budget - 1)
	if !okA || !okB {
		return nil, false
	}
	out := new(uint256.Int)
	switch v.Op {
	case opcodes.ADD:
		out.Add(a, b)
	case opcodes.SUB:
		out.Sub(a, b)
	case opcodes.AND:
		out.And(a, b)
	case opcodes.OR:
		out.Or(a, b)
	case opcodes.XOR:
		out.Xor(a, b)
	case opcodes.SHL:
		shift, _ := a.Uint64WithOverflow()
		out.Lsh(b, uint(shift))
	case opcodes.SHR:
		shift, _ := a.Uint64WithOverflow()
		out.Rsh(b, uint(shift))
	case opcodes.BYTE:
		n, _ := a.Uint64WithOverflow()
		if n >= 32 {
			out.Clear()
		} else {
			buf := b.Bytes32()
			out.SetUint64(uint64(buf[n]))
		}
	default:
		return nil, false
	}
	return out, true
}

// StorageRef records one SLOAD/SSTORE seen during simulation.
type StorageRef struct {
	PC     uint64
	Slot   *Value
	Stored *Value // nil for loads
}

// DelegateRef records a DELEGATECALL and the value its code address came
// from.
type DelegateRef struct {
	PC     uint64
	Target *Value
}

// SlotMathRef records a MUL/ADD whose operands are both storage loads, the
// raw material of storage-controlled fee arithmetic.
type SlotMathRef struct {
	PC    uint64
	Op    opcodes.ByteCode
	SlotA *Value
	SlotB *Value
}

// SimResult is what a single forward pass over a block's instructions yields.
type SimResult struct {
	// JumpTarget is the value on top of the stack at the block's final
	// JUMP/JUMPI, nil when the block does not end in a jump.
	JumpTarget *Value
	// BranchCond is the condition operand of a final JUMPI.
	BranchCond *Value
	Loads      []StorageRef
	Stores     []StorageRef
	Delegates  []DelegateRef
	SlotMath   []SlotMathRef
	// Truncated is set when the step ceiling was hit; every fact above is
	// then incomplete and callers must degrade to Unknown.
	Truncated bool
}

// shadowStack is a fixed-abstraction operand stack. Pops below the entry
// depth synthesize Unknown values, since the block's callers are not modeled.
type shadowStack struct {
	items []*Value
}

func (s *shadowStack) push(v *Value) {
	if len(s.items) >= 1024 {
		return
	}
	s.items = append(s.items, v)
}

func (s *shadowStack) pop() *Value {
	if len(s.items) == 0 {
		return unknownValue
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v
}

func (s *shadowStack) peek(n int) *Value {
	if n >= len(s.items) {
		return unknownValue
	}
	return s.items[len(s.items)-1-n]
}

func (s *shadowStack) swap(n int) {
	top := len(s.items) - 1
	other := top - n
	if other < 0 {
		return
	}
	s.items[top], s.items[other] = s.items[other], s.items[top]
}

// simulateBlock abstractly interprets instructions with an empty entry stack,
// tracking constants, CALLER/ORIGIN provenance and storage accesses. maxSteps
// is a hard ceiling; crossing it marks the result truncated.
func simulateBlock(instructions []disasm.Instruction, maxSteps int) SimResult {
	var (
		res   SimResult
		stack shadowStack
		steps int
	)
	for i := range instructions {
		ins := &instructions[i]
		steps++
		if steps > maxSteps {
			res.Truncated = true
			return res
		}
		op := ins.Op
		switch {
		case op.IsPush():
			if op == opcodes.PUSH0 {
				stack.push(konst(uint256.NewInt(0)))
			} else {
				stack.push(konst(new(uint256.Int).SetBytes(ins.Arg)))
			}
		case op >= opcodes.DUP1 && op <= opcodes.DUP16:
			stack.push(stack.peek(int(op - opcodes.DUP1)))
		case op >= opcodes.SWAP1 && op <= opcodes.SWAP16:
			stack.swap(int(op-opcodes.SWAP1) + 1)
		case op == opcodes.POP:
			stack.pop()
		case op == opcodes.CALLER:
			stack.push(&Value{Kind: Caller, Op: op})
		case op == opcodes.ORIGIN:
			stack.push(&Value{Kind: Origin, Op: op})
		case op == opcodes.SLOAD:
			slot := stack.pop()
			v := &Value{Kind: Storage, Op: op, Args: []*Value{slot}}
			res.Loads = append(res.Loads, StorageRef{PC: ins.PC, Slot: slot})
			stack.push(v)
		case op == opcodes.SSTORE:
			slot := stack.pop()
			stored := stack.pop()
			res.Stores = append(res.Stores, StorageRef{PC: ins.PC, Slot: slot, Stored: stored})
		case op == opcodes.JUMP:
			res.JumpTarget = stack.pop()
			return res
		case op == opcodes.JUMPI:
			res.JumpTarget = stack.pop()
			res.BranchCond = stack.pop()
			return res
		case op == opcodes.JUMPDEST:
			// no stack effect
		case op == opcodes.DELEGATECALL:
			gas := stack.pop()
			addr := stack.pop()
			rest := []*Value{stack.pop(), stack.pop(), stack.pop(), stack.pop()}
			res.Delegates = append(res.Delegates, DelegateRef{PC: ins.PC, Target: addr})
			stack.push(&Value{Kind: Expr, Op: op, Args: append([]*Value{gas, addr}, rest...)})
		case op == opcodes.MUL || op == opcodes.ADD:
			a := stack.pop()
			b := stack.pop()
			if a.Kind == Storage && b.Kind == Storage {
				res.SlotMath = append(res.SlotMath, SlotMathRef{PC: ins.PC, Op: op, SlotA: a.Args[0], SlotB: b.Args[0]})
			}
			stack.push(&Value{Kind: Expr, Op: op, Args: []*Value{a, b}})
		default:
			pops, pushes := opcodes.StackDelta(op)
			args := make([]*Value, 0, pops)
			for n := 0; n < pops; n++ {
				args = append(args, stack.pop())
			}
			for n := 0; n < pushes; n++ {
				stack.push(&Value{Kind: Expr, Op: op, Args: args})
			}
			if op.IsTerminator() {
				return res
			}
		}
	}
	return res
}
