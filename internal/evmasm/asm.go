// Package evmasm is a minimal EVM assembler with one-byte label fixups. It
// exists so tests and tooling can write small programs as opcode sequences
// instead of hand-counted byte offsets.
package evmasm

import (
	"fmt"

	"github.com/evmsleuth/sleuth/core/opcodes"
)

// Builder accumulates a bytecode program. Labels resolve to byte offsets and
// may be referenced before definition; Bytes applies the fixups.
type Builder struct {
	buf    []byte
	labels map[string]int
	fixups map[int]string
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{labels: make(map[string]int), fixups: make(map[int]string)}
}

// Op appends raw opcodes.
func (b *Builder) Op(ops ...opcodes.ByteCode) *Builder {
	for _, op := range ops {
		b.buf = append(b.buf, byte(op))
	}
	return b
}

// Push1 appends PUSH1 v.
func (b *Builder) Push1(v byte) *Builder {
	b.buf = append(b.buf, byte(opcodes.PUSH1), v)
	return b
}

// PushN appends the narrowest PUSH for the given immediate bytes.
func (b *Builder) PushN(imm ...byte) *Builder {
	if len(imm) == 0 || len(imm) > 32 {
		panic(fmt.Sprintf("push immediate of %d bytes", len(imm)))
	}
	b.buf = append(b.buf, byte(opcodes.PUSH1)+byte(len(imm)-1))
	b.buf = append(b.buf, imm...)
	return b
}

// PushLabel appends PUSH1 with a placeholder resolved to the label's offset.
// Programs must stay under 256 bytes for the one-byte encoding.
func (b *Builder) PushLabel(name string) *Builder {
	b.buf = append(b.buf, byte(opcodes.PUSH1))
	b.fixups[len(b.buf)] = name
	b.buf = append(b.buf, 0)
	return b
}

// Label binds name to the current offset.
func (b *Builder) Label(name string) *Builder {
	b.labels[name] = len(b.buf)
	return b
}

// Jumpdest binds name to the current offset and emits the JUMPDEST.
func (b *Builder) Jumpdest(name string) *Builder {
	return b.Label(name).Op(opcodes.JUMPDEST)
}

// PC returns the current offset.
func (b *Builder) PC() int {
	return len(b.buf)
}

// Bytes resolves all label references and returns the program.
func (b *Builder) Bytes() []byte {
	for pos, name := range b.fixups {
		off, ok := b.labels[name]
		if !ok {
			panic(fmt.Sprintf("undefined label %q", name))
		}
		if off > 0xff {
			panic(fmt.Sprintf("label %q offset %d exceeds one byte", name, off))
		}
		b.buf[pos] = byte(off)
	}
	return b.buf
}
