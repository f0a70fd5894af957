package opcodes

import "testing"

func TestPushMetadata(t *testing.T) {
	if !PUSH0.IsPush() || !PUSH1.IsPush() || !PUSH32.IsPush() {
		t.Error("push range misclassified")
	}
	if DUP1.IsPush() || JUMPDEST.IsPush() {
		t.Error("non-push classified as push")
	}
	if PUSH0.PushSize() != 0 || PUSH1.PushSize() != 1 || PUSH32.PushSize() != 32 {
		t.Error("push immediate widths wrong")
	}
	if Immediates(ADD) != 0 || Immediates(PUSH4) != 4 {
		t.Error("immediate widths wrong")
	}
}

func TestTerminators(t *testing.T) {
	for _, op := range []ByteCode{STOP, RETURN, REVERT, INVALID, SELFDESTRUCT, JUMP} {
		if !op.IsTerminator() {
			t.Errorf("%s should terminate a block", op)
		}
	}
	if JUMPI.IsTerminator() {
		t.Error("JUMPI falls through and must not be a terminator")
	}
	if !JUMPI.AltersControlFlow() || !JUMP.AltersControlFlow() {
		t.Error("jumps alter control flow")
	}
	if ADD.AltersControlFlow() {
		t.Error("ADD does not alter control flow")
	}
}

func TestUndefinedBytes(t *testing.T) {
	for _, b := range []byte{0x0c, 0x21, 0x4b, 0xef} {
		if ByteCode(b).IsDefined() {
			t.Errorf("%#x should be undefined", b)
		}
	}
	for _, op := range []ByteCode{TLOAD, TSTORE, MCOPY, BLOBHASH, BLOBBASEFEE, PUSH0} {
		if !op.IsDefined() {
			t.Errorf("%s should be defined", op)
		}
	}
}

func TestStackDelta(t *testing.T) {
	cases := []struct {
		op           ByteCode
		pops, pushes int
	}{
		{ADD, 2, 1},
		{CALLER, 0, 1},
		{SSTORE, 2, 0},
		{DELEGATECALL, 6, 1},
		{JUMPI, 2, 0},
	}
	for _, tc := range cases {
		pops, pushes := StackDelta(tc.op)
		if pops != tc.pops || pushes != tc.pushes {
			t.Errorf("%s delta = (%d,%d), want (%d,%d)", tc.op, pops, pushes, tc.pops, tc.pushes)
		}
	}
}
