// Package isa decodes and formats x20 instruction words.
//
// Instruction format
//
// Each instruction is a 32-bit word. The opcode occupies bits 0..7.
// The remaining layout depends on the opcode's format:
//
//	F_OP:         <Opcode:8><Unused:24>
//	F_REG:        <Opcode:8><Reg1:4><Unused:20>
//	F_REGCONST:   <Opcode:8><Reg1:4><SignedImm20:20>
//	F_REGADDR:    <Opcode:8><Reg1:4><SignedAddr20:20>
//	F_ADDR:       <Opcode:8><Unused:4><SignedAddr20:20>
//	F_REGREG:     <Opcode:8><Reg1:4><Reg2:4><Unused:16>
//	F_REGOFF:     <Opcode:8><Reg1:4><Reg2:4><SignedOffset16:16>
//	F_REGREGADDR: <Opcode:8><Reg1:4><Reg2:4><SignedAddr16:16>
//
// 20-bit and 16-bit displacement fields are sign-extended to 32 bits.
package isa

import "fmt"

// Opcode identifies an instruction.
type Opcode byte

// The full x20 opcode set.
const (
	HALT    Opcode = 0x00
	LOAD    Opcode = 0x01
	STORE   Opcode = 0x02
	LDIMM   Opcode = 0x03
	LDADDR  Opcode = 0x04
	LDIND   Opcode = 0x05
	STIND   Opcode = 0x06
	ADDF    Opcode = 0x07
	SUBF    Opcode = 0x08
	DIVF    Opcode = 0x09
	MULF    Opcode = 0x0a
	ADDI    Opcode = 0x0b
	SUBI    Opcode = 0x0c
	DIVI    Opcode = 0x0d
	MULI    Opcode = 0x0e
	CALL    Opcode = 0x0f
	RET     Opcode = 0x10
	BLT     Opcode = 0x11
	BGT     Opcode = 0x12
	BEQ     Opcode = 0x13
	JMP     Opcode = 0x14
	CMPXCHG Opcode = 0x15
	GETPID  Opcode = 0x16
	GETPN   Opcode = 0x17
	PUSH    Opcode = 0x18
	POP     Opcode = 0x19
	NOP     Opcode = 0x20
)

// Format describes the operand layout of an instruction.
type Format int

const (
	FInvalid Format = iota
	FOp
	FAddr
	FReg
	FRegConst
	FRegAddr
	FRegReg
	FRegOff
	FRegRegAddr
)

var mnemonics = map[Opcode]string{
	HALT: "halt", LOAD: "load", STORE: "store", LDIMM: "ldimm",
	LDADDR: "ldaddr", LDIND: "ldind", STIND: "stind", ADDF: "addf",
	SUBF: "subf", DIVF: "divf", MULF: "mulf", ADDI: "addi", SUBI: "subi",
	DIVI: "divi", MULI: "muli", CALL: "call", RET: "ret", BLT: "blt",
	BGT: "bgt", BEQ: "beq", JMP: "jmp", CMPXCHG: "cmpxchg",
	GETPID: "getpid", GETPN: "getpn", PUSH: "push", POP: "pop", NOP: "nop",
}

var formats = map[Opcode]Format{
	HALT: FOp, LOAD: FRegAddr, STORE: FRegAddr, LDIMM: FRegConst,
	LDADDR: FRegAddr, LDIND: FRegOff, STIND: FRegOff, ADDF: FRegReg,
	SUBF: FRegReg, DIVF: FRegReg, MULF: FRegReg, ADDI: FRegReg,
	SUBI: FRegReg, DIVI: FRegReg, MULI: FRegReg, CALL: FAddr, RET: FOp,
	BLT: FRegRegAddr, BGT: FRegRegAddr, BEQ: FRegRegAddr, JMP: FAddr,
	CMPXCHG: FRegRegAddr, GETPID: FReg, GETPN: FReg, PUSH: FReg, POP: FReg,
	NOP: FOp,
}

// DecodeOpcode extracts the opcode from an instruction word.
func DecodeOpcode(word int32) Opcode {
	return Opcode(byte(word))
}

// FormatOf returns the operand format for an opcode, or FInvalid for an
// unrecognized opcode.
func FormatOf(op Opcode) Format {
	f, ok := formats[op]
	if !ok {
		return FInvalid
	}
	return f
}

// Mnemonic returns the textual mnemonic for an opcode, or "unknown".
func Mnemonic(op Opcode) string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return "unknown"
}

// Reg1 decodes the first register field (bits 8..11).
func Reg1(word int32) int { return int((word >> 8) & 0xf) }

// Reg2 decodes the second register field (bits 12..15).
func Reg2(word int32) int { return int((word >> 12) & 0xf) }

// SignExtend20 sign-extends a 20-bit field to a 32-bit value.
func SignExtend20(v int32) int32 {
	v &= 0xfffff
	if v&0x80000 != 0 {
		v |= ^int32(0xfffff)
	}
	return v
}

// SignExtend16 sign-extends a 16-bit field to a 32-bit value.
func SignExtend16(v int32) int32 {
	v &= 0xffff
	if v&0x8000 != 0 {
		v |= ^int32(0xffff)
	}
	return v
}

// Addr20 decodes the signed 20-bit displacement in bits 12..31.
func Addr20(word int32) int32 {
	return SignExtend20(int32(uint32(word) >> 12))
}

// Addr16 decodes the signed 16-bit displacement in bits 16..31.
func Addr16(word int32) int32 {
	return SignExtend16(int32(uint32(word) >> 16))
}

// Disassemble renders word, fetched from address pc, as
// "<mnemonic> <operands>" text. Address-bearing operands print their
// PC-relative absolute target (addr + pc + 1).
func Disassemble(word int32, pc uint32) (string, error) {
	op := DecodeOpcode(word)
	format := FormatOf(op)
	if format == FInvalid {
		return "", fmt.Errorf("isa: illegal instruction %#02x", byte(word))
	}
	mnemonic := Mnemonic(op)
	target := func(disp int32) int64 { return int64(disp) + int64(pc) + 1 }
	switch format {
	case FOp:
		return mnemonic, nil
	case FAddr:
		return fmt.Sprintf("%-8s%d", mnemonic, target(Addr20(word))), nil
	case FReg:
		return fmt.Sprintf("%-8sr%d", mnemonic, Reg1(word)), nil
	case FRegConst:
		return fmt.Sprintf("%-8sr%d, %d", mnemonic, Reg1(word), Addr20(word)), nil
	case FRegAddr:
		return fmt.Sprintf("%-8sr%d, %d", mnemonic, Reg1(word), target(Addr20(word))), nil
	case FRegReg:
		return fmt.Sprintf("%-8sr%d, r%d", mnemonic, Reg1(word), Reg2(word)), nil
	case FRegOff:
		return fmt.Sprintf("%-8sr%d, %d(r%d)", mnemonic, Reg1(word), Addr16(word), Reg2(word)), nil
	case FRegRegAddr:
		return fmt.Sprintf("%-8sr%d, r%d, %d", mnemonic, Reg1(word), Reg2(word), target(Addr16(word))), nil
	default:
		return "", fmt.Errorf("isa: illegal instruction %#02x", byte(word))
	}
}
