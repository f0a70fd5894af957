// Package disasm turns raw EVM bytecode into structured instructions. The
// decoding is a purely local byte-to-instruction mapping; all control-flow
// reasoning lives in core/cfg.
package disasm

import (
	"fmt"
	"strings"

	"github.com/evmsleuth/sleuth/core/opcodes"
)

// Instruction is one decoded EVM instruction. Instances are immutable once
// decoded; PC is the byte offset in the original bytecode and is the only
// valid jump-target identity.
type Instruction struct {
	PC        uint64
	Op        opcodes.ByteCode
	Arg       []byte // immediate operand, zero-padded when truncated
	Truncated bool   // PUSHn at the code tail with fewer than n bytes left

	// present is the immediate byte count actually in the code; it differs
	// from len(Arg) only for a truncated tail push.
	present uint8
}

// Size returns the byte footprint of the instruction in the original code.
// A truncated push covers only the bytes actually present.
func (ins *Instruction) Size() uint64 {
	return 1 + uint64(ins.present)
}

// Undefined reports whether the opcode byte is outside the known opcode
// table. Undefined bytes behave like INVALID at runtime but keep their raw
// byte value here so downstream tools can show what was actually embedded.
func (ins *Instruction) Undefined() bool {
	return !ins.Op.IsDefined()
}

func (ins *Instruction) String() string {
	if len(ins.Arg) > 0 {
		return fmt.Sprintf("%05x: %v %#x", ins.PC, ins.Op, ins.Arg)
	}
	return fmt.Sprintf("%05x: %v", ins.PC, ins.Op)
}

// WarnKind classifies non-fatal decode anomalies.
type WarnKind int

const (
	WarnTruncatedPush WarnKind = iota
	WarnUndefinedOpcode
)

func (k WarnKind) String() string {
	switch k {
	case WarnTruncatedPush:
		return "truncated push"
	case WarnUndefinedOpcode:
		return "undefined opcode"
	}
	return "unknown"
}

// Warning records a decode anomaly. Warnings never abort decoding; deployed
// bytecode routinely embeds data regions that look like garbage instructions.
type Warning struct {
	PC   uint64
	Kind WarnKind
	Op   opcodes.ByteCode
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at %#x (byte %#x)", w.Kind, w.PC, byte(w.Op))
}

// Decode walks code once, left to right, and returns the full instruction
// sequence plus any non-fatal warnings. A PUSHn with fewer than n bytes
// remaining is zero-padded on the right, matching what the EVM itself does
// when executing a truncated code tail.
func Decode(code []byte) ([]Instruction, []Warning) {
	var (
		instructions = make([]Instruction, 0, len(code))
		warnings     []Warning
	)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := opcodes.ByteCode(code[pc])
		ins := Instruction{PC: pc, Op: op}

		if !op.IsDefined() {
			warnings = append(warnings, Warning{PC: pc, Kind: WarnUndefinedOpcode, Op: op})
			instructions = append(instructions, ins)
			pc++
			continue
		}

		if width := opcodes.Immediates(op); width > 0 {
			end := pc + 1 + uint64(width)
			if end > uint64(len(code)) {
				// Tail push: pad the missing bytes with zeros.
				arg := make([]byte, width)
				copy(arg, code[pc+1:])
				ins.Arg = arg
				ins.Truncated = true
				ins.present = uint8(uint64(len(code)) - pc - 1)
				warnings = append(warnings, Warning{PC: pc, Kind: WarnTruncatedPush, Op: op})
				instructions = append(instructions, ins)
				break
			}
			ins.Arg = code[pc+1 : end]
			ins.present = uint8(width)
			pc = end
		} else {
			pc++
		}
		instructions = append(instructions, ins)
	}
	return instructions, warnings
}

// Encode reassembles an instruction sequence into bytecode. Truncated pushes
// are emitted at their declared width, so Encode(Decode(code)) reproduces
// code only when code has no truncated tail.
func Encode(instructions []Instruction) []byte {
	var out []byte
	for i := range instructions {
		out = append(out, byte(instructions[i].Op))
		out = append(out, instructions[i].Arg...)
	}
	return out
}

// Disassemble returns the instruction sequence in human-readable form, one
// instruction per line.
func Disassemble(code []byte) string {
	instructions, _ := Decode(code)
	var sb strings.Builder
	for i := range instructions {
		sb.WriteString(instructions[i].String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
