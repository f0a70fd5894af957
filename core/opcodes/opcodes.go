// Package opcodes holds the EVM opcode metadata tables shared by every
// analysis stage. The tables are built once at init and never mutated, so
// they are safe to read from concurrent analyses without synchronization.
package opcodes

import "fmt"

// ByteCode is a single EVM opcode byte.
type ByteCode byte

// 0x0 range - arithmetic ops.
const (
	STOP       ByteCode = 0x0
	ADD        ByteCode = 0x1
	MUL        ByteCode = 0x2
	SUB        ByteCode = 0x3
	DIV        ByteCode = 0x4
	SDIV       ByteCode = 0x5
	MOD        ByteCode = 0x6
	SMOD       ByteCode = 0x7
	ADDMOD     ByteCode = 0x8
	MULMOD     ByteCode = 0x9
	EXP        ByteCode = 0xa
	SIGNEXTEND ByteCode = 0xb
)

// 0x10 range - comparison ops.
const (
	LT     ByteCode = 0x10
	GT     ByteCode = 0x11
	SLT    ByteCode = 0x12
	SGT    ByteCode = 0x13
	EQ     ByteCode = 0x14
	ISZERO ByteCode = 0x15
	AND    ByteCode = 0x16
	OR     ByteCode = 0x17
	XOR    ByteCode = 0x18
	NOT    ByteCode = 0x19
	BYTE   ByteCode = 0x1a
	SHL    ByteCode = 0x1b
	SHR    ByteCode = 0x1c
	SAR    ByteCode = 0x1d
)

// 0x20 range - crypto.
const (
	KECCAK256 ByteCode = 0x20
)

// 0x30 range - closure state.
const (
	ADDRESS        ByteCode = 0x30
	BALANCE        ByteCode = 0x31
	ORIGIN         ByteCode = 0x32
	CALLER         ByteCode = 0x33
	CALLVALUE      ByteCode = 0x34
	CALLDATALOAD   ByteCode = 0x35
	CALLDATASIZE   ByteCode = 0x36
	CALLDATACOPY   ByteCode = 0x37
	CODESIZE       ByteCode = 0x38
	CODECOPY       ByteCode = 0x39
	GASPRICE       ByteCode = 0x3a
	EXTCODESIZE    ByteCode = 0x3b
	EXTCODECOPY    ByteCode = 0x3c
	RETURNDATASIZE ByteCode = 0x3d
	RETURNDATACOPY ByteCode = 0x3e
	EXTCODEHASH    ByteCode = 0x3f
)

// 0x40 range - block operations.
const (
	BLOCKHASH   ByteCode = 0x40
	COINBASE    ByteCode = 0x41
	TIMESTAMP   ByteCode = 0x42
	NUMBER      ByteCode = 0x43
	PREVRANDAO  ByteCode = 0x44
	GASLIMIT    ByteCode = 0x45
	CHAINID     ByteCode = 0x46
	SELFBALANCE ByteCode = 0x47
	BASEFEE     ByteCode = 0x48
	BLOBHASH    ByteCode = 0x49
	BLOBBASEFEE ByteCode = 0x4a
)

// 0x50 range - storage and execution.
const (
	POP      ByteCode = 0x50
	MLOAD    ByteCode = 0x51
	MSTORE   ByteCode = 0x52
	MSTORE8  ByteCode = 0x53
	SLOAD    ByteCode = 0x54
	SSTORE   ByteCode = 0x55
	JUMP     ByteCode = 0x56
	JUMPI    ByteCode = 0x57
	PC       ByteCode = 0x58
	MSIZE    ByteCode = 0x59
	GAS      ByteCode = 0x5a
	JUMPDEST ByteCode = 0x5b
	TLOAD    ByteCode = 0x5c
	TSTORE   ByteCode = 0x5d
	MCOPY    ByteCode = 0x5e
	PUSH0    ByteCode = 0x5f
)

// 0x60 range - pushes.
const (
	PUSH1 ByteCode = 0x60 + iota
	PUSH2
	PUSH3
	PUSH4
	PUSH5
	PUSH6
	PUSH7
	PUSH8
	PUSH9
	PUSH10
	PUSH11
	PUSH12
	PUSH13
	PUSH14
	PUSH15
	PUSH16
	PUSH17
	PUSH18
	PUSH19
	PUSH20
	PUSH21
	PUSH22
	PUSH23
	PUSH24
	PUSH25
	PUSH26
	PUSH27
	PUSH28
	PUSH29
	PUSH30
	PUSH31
	PUSH32
)

// 0x80 range - dups.
const (
	DUP1 ByteCode = 0x80 + iota
	DUP2
	DUP3
	DUP4
	DUP5
	DUP6
	DUP7
	DUP8
	DUP9
	DUP10
	DUP11
	DUP12
	DUP13
	DUP14
	DUP15
	DUP16
)

// 0x90 range - swaps.
const (
	SWAP1 ByteCode = 0x90 + iota
	SWAP2
	SWAP3
	SWAP4
	SWAP5
	SWAP6
	SWAP7
	SWAP8
	SWAP9
	SWAP10
	SWAP11
	SWAP12
	SWAP13
	SWAP14
	SWAP15
	SWAP16
)

// 0xa0 range - logging ops.
const (
	LOG0 ByteCode = 0xa0 + iota
	LOG1
	LOG2
	LOG3
	LOG4
)

// 0xf0 range - closures.
const (
	CREATE       ByteCode = 0xf0
	CALL         ByteCode = 0xf1
	CALLCODE     ByteCode = 0xf2
	RETURN       ByteCode = 0xf3
	DELEGATECALL ByteCode = 0xf4
	CREATE2      ByteCode = 0xf5

	STATICCALL   ByteCode = 0xfa
	REVERT       ByteCode = 0xfd
	INVALID      ByteCode = 0xfe
	SELFDESTRUCT ByteCode = 0xff
)

// opInfo describes one opcode: mnemonic, immediate operand width and
// stack effect. Undefined opcodes keep a zero entry and defined == false.
type opInfo struct {
	name       string
	immediates int
	pops       int
	pushes     int
	defined    bool
}

var opTable [256]opInfo

func def(op ByteCode, name string, immediates, pops, pushes int) {
	opTable[op] = opInfo{name: name, immediates: immediates, pops: pops, pushes: pushes, defined: true}
}

func init() {
	def(STOP, "STOP", 0, 0, 0)
	def(ADD, "ADD", 0, 2, 1)
	def(MUL, "MUL", 0, 2, 1)
	def(SUB, "SUB", 0, 2, 1)
	def(DIV, "DIV", 0, 2, 1)
	def(SDIV, "SDIV", 0, 2, 1)
	def(MOD, "MOD", 0, 2, 1)
	def(SMOD, "SMOD", 0, 2, 1)
	def(ADDMOD, "ADDMOD", 0, 3, 1)
	def(MULMOD, "MULMOD", 0, 3, 1)
	def(EXP, "EXP", 0, 2, 1)
	def(SIGNEXTEND, "SIGNEXTEND", 0, 2, 1)

	def(LT, "LT", 0, 2, 1)
	def(GT, "GT", 0, 2, 1)
	def(SLT, "SLT", 0, 2, 1)
	def(SGT, "SGT", 0, 2, 1)
	def(EQ, "EQ", 0, 2, 1)
	def(ISZERO, "ISZERO", 0, 1, 1)
	def(AND, "AND", 0, 2, 1)
	def(OR, "OR", 0, 2, 1)
	def(XOR, "XOR", 0, 2, 1)
	def(NOT, "NOT", 0, 1, 1)
	def(BYTE, "BYTE", 0, 2, 1)
	def(SHL, "SHL", 0, 2, 1)
	def(SHR, "SHR", 0, 2, 1)
	def(SAR, "SAR", 0, 2, 1)

	def(KECCAK256, "KECCAK256", 0, 2, 1)

	def(ADDRESS, "ADDRESS", 0, 0, 1)
	def(BALANCE, "BALANCE", 0, 1, 1)
	def(ORIGIN, "ORIGIN", 0, 0, 1)
	def(CALLER, "CALLER", 0, 0, 1)
	def(CALLVALUE, "CALLVALUE", 0, 0, 1)
	def(CALLDATALOAD, "CALLDATALOAD", 0, 1, 1)
	def(CALLDATASIZE, "CALLDATASIZE", 0, 0, 1)
	def(CALLDATACOPY, "CALLDATACOPY", 0, 3, 0)
	def(CODESIZE, "CODESIZE", 0, 0, 1)
	def(CODECOPY, "CODECOPY", 0, 3, 0)
	def(GASPRICE, "GASPRICE", 0, 0, 1)
	def(EXTCODESIZE, "EXTCODESIZE", 0, 1, 1)
	def(EXTCODECOPY, "EXTCODECOPY", 0, 4, 0)
	def(RETURNDATASIZE, "RETURNDATASIZE", 0, 0, 1)
	def(RETURNDATACOPY, "RETURNDATACOPY", 0, 3, 0)
	def(EXTCODEHASH, "EXTCODEHASH", 0, 1, 1)

	def(BLOCKHASH, "BLOCKHASH", 0, 1, 1)
	def(COINBASE, "COINBASE", 0, 0, 1)
	def(TIMESTAMP, "TIMESTAMP", 0, 0, 1)
	def(NUMBER, "NUMBER", 0, 0, 1)
	def(PREVRANDAO, "PREVRANDAO", 0, 0, 1)
	def(GASLIMIT, "GASLIMIT", 0, 0, 1)
	def(CHAINID, "CHAINID", 0, 0, 1)
	def(SELFBALANCE, "SELFBALANCE", 0, 0, 1)
	def(BASEFEE, "BASEFEE", 0, 0, 1)
	def(BLOBHASH, "BLOBHASH", 0, 1, 1)
	def(BLOBBASEFEE, "BLOBBASEFEE", 0, 0, 1)

	def(POP, "POP", 0, 1, 0)
	def(MLOAD, "MLOAD", 0, 1, 1)
	def(MSTORE, "MSTORE", 0, 2, 0)
	def(MSTORE8, "MSTORE8", 0, 2, 0)
	def(SLOAD, "SLOAD", 0, 1, 1)
	def(SSTORE, "SSTORE", 0, 2, 0)
	def(JUMP, "JUMP", 0, 1, 0)
	def(JUMPI, "JUMPI", 0, 2, 0)
	def(PC, "PC", 0, 0, 1)
	def(MSIZE, "MSIZE", 0, 0, 1)
	def(GAS, "GAS", 0, 0, 1)
	def(JUMPDEST, "JUMPDEST", 0, 0, 0)
	def(TLOAD, "TLOAD", 0, 1, 1)
	def(TSTORE, "TSTORE", 0, 2, 0)
	def(MCOPY, "MCOPY", 0, 3, 0)
	def(PUSH0, "PUSH0", 0, 0, 1)

	for i := 0; i < 32; i++ {
		op := PUSH1 + ByteCode(i)
		def(op, fmt.Sprintf("PUSH%d", i+1), i+1, 0, 1)
	}
	for i := 0; i < 16; i++ {
		def(DUP1+ByteCode(i), fmt.Sprintf("DUP%d", i+1), 0, i+1, i+2)
	}
	for i := 0; i < 16; i++ {
		def(SWAP1+ByteCode(i), fmt.Sprintf("SWAP%d", i+1), 0, i+2, i+2)
	}
	for i := 0; i < 5; i++ {
		def(LOG0+ByteCode(i), fmt.Sprintf("LOG%d", i), 0, i+2, 0)
	}

	def(CREATE, "CREATE", 0, 3, 1)
	def(CALL, "CALL", 0, 7, 1)
	def(CALLCODE, "CALLCODE", 0, 7, 1)
	def(RETURN, "RETURN", 0, 2, 0)
	def(DELEGATECALL, "DELEGATECALL", 0, 6, 1)
	def(CREATE2, "CREATE2", 0, 4, 1)
	def(STATICCALL, "STATICCALL", 0, 6, 1)
	def(REVERT, "REVERT", 0, 2, 0)
	def(INVALID, "INVALID", 0, 0, 0)
	def(SELFDESTRUCT, "SELFDESTRUCT", 0, 1, 0)
}

// IsDefined reports whether op is a known EVM opcode.
func (op ByteCode) IsDefined() bool {
	return opTable[op].defined
}

// IsPush reports whether op is PUSH0..PUSH32.
func (op ByteCode) IsPush() bool {
	return op >= PUSH0 && op <= PUSH32
}

// PushSize returns the immediate operand width of a PUSH opcode, 0 otherwise.
func (op ByteCode) PushSize() int {
	return opTable[op].immediates
}

// Immediates returns the immediate operand byte count of op.
func Immediates(op ByteCode) int {
	return opTable[op].immediates
}

// StackDelta returns how many stack items op pops and pushes.
func StackDelta(op ByteCode) (pops, pushes int) {
	return opTable[op].pops, opTable[op].pushes
}

// IsTerminator reports whether op unconditionally ends a basic block with no
// fallthrough: STOP, RETURN, REVERT, INVALID, SELFDESTRUCT and JUMP.
func (op ByteCode) IsTerminator() bool {
	switch op {
	case STOP, RETURN, REVERT, INVALID, SELFDESTRUCT, JUMP:
		return true
	}
	return false
}

// AltersControlFlow reports whether op ends a basic block, either by
// terminating execution or by branching.
func (op ByteCode) AltersControlFlow() bool {
	return op.IsTerminator() || op == JUMPI
}

func (op ByteCode) String() string {
	if info := opTable[op]; info.defined {
		return info.name
	}
	return fmt.Sprintf("opcode %#x not defined", int(op))
}
