package vm

import "github.com/cipnrkorvo1/x20/pkg/isa"

// Core is one processor's private register file, running its own
// fetch-decode-execute loop over the VM's shared memory.
type Core struct {
	Regs      [16]int32
	StackBase int32 // highest legal stack address, the caller-supplied SP ceiling
	PID       int

	vm *VM
}

// run executes instructions until the core halts or faults, and
// returns the termination code.
func (c *Core) run() int32 {
	for {
		pc := c.Regs[PC]
		if pc < 0 || int(pc) >= MemWords {
			return TermAddressOutOfRange
		}

		c.vm.memLock.Lock()
		word := c.vm.memory[pc]
		c.vm.memLock.Unlock()

		op := isa.DecodeOpcode(word)
		if isa.FormatOf(op) == isa.FInvalid {
			return TermIllegalInstruction
		}

		c.Regs[PC] = pc + 1
		status, halted := c.execute(op, word)
		if c.vm.trace {
			c.vm.printTrace(c, pc)
		}
		if halted {
			return status
		}
	}
}

// execute performs one decoded instruction. The second return value
// is true when the core has halted or faulted; status is then the
// termination code to report.
func (c *Core) execute(op isa.Opcode, word int32) (status int32, halted bool) {
	r1 := isa.Reg1(word)
	r2 := isa.Reg2(word)

	switch op {
	case isa.HALT:
		return TermNormalTermination, true

	case isa.NOP:
		// no-op

	case isa.LDIMM:
		c.Regs[r1] = isa.Addr20(word)

	case isa.LDADDR:
		c.Regs[r1] = c.target(isa.Addr20(word))

	case isa.LOAD:
		addr := c.target(isa.Addr20(word))
		v, fault := c.readWord(addr)
		if fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[r1] = v

	case isa.STORE:
		addr := c.target(isa.Addr20(word))
		if fault := c.writeWord(addr, c.Regs[r1]); fault {
			return TermAddressOutOfRange, true
		}

	case isa.LDIND:
		addr := int64(c.Regs[r2]) + int64(isa.Addr16(word))
		if addr < 0 || addr >= MemWords {
			return TermAddressOutOfRange, true
		}
		v, fault := c.readWord(int32(addr))
		if fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[r1] = v

	case isa.STIND:
		addr := int64(c.Regs[r2]) + int64(isa.Addr16(word))
		if addr < 0 || addr >= MemWords {
			return TermAddressOutOfRange, true
		}
		if fault := c.writeWord(int32(addr), c.Regs[r1]); fault {
			return TermAddressOutOfRange, true
		}

	case isa.ADDI:
		c.Regs[r1] += c.Regs[r2]
	case isa.SUBI:
		c.Regs[r1] -= c.Regs[r2]
	case isa.MULI:
		c.Regs[r1] *= c.Regs[r2]
	case isa.DIVI:
		if c.Regs[r2] == 0 {
			return TermDivideByZero, true
		}
		c.Regs[r1] /= c.Regs[r2]

	case isa.ADDF:
		c.Regs[r1] = float32ToBits(bitsToFloat32(c.Regs[r1]) + bitsToFloat32(c.Regs[r2]))
	case isa.SUBF:
		c.Regs[r1] = float32ToBits(bitsToFloat32(c.Regs[r1]) - bitsToFloat32(c.Regs[r2]))
	case isa.MULF:
		c.Regs[r1] = float32ToBits(bitsToFloat32(c.Regs[r1]) * bitsToFloat32(c.Regs[r2]))
	case isa.DIVF:
		divisor := bitsToFloat32(c.Regs[r2])
		if divisor == 0 {
			return TermDivideByZero, true
		}
		c.Regs[r1] = float32ToBits(bitsToFloat32(c.Regs[r1]) / divisor)

	case isa.JMP:
		c.Regs[PC] = c.target(isa.Addr20(word))

	case isa.BLT:
		if c.Regs[r1] < c.Regs[r2] {
			c.Regs[PC] = c.targetFromPC(c.Regs[PC], isa.Addr16(word))
		}
	case isa.BGT:
		if c.Regs[r1] > c.Regs[r2] {
			c.Regs[PC] = c.targetFromPC(c.Regs[PC], isa.Addr16(word))
		}
	case isa.BEQ:
		if c.Regs[r1] == c.Regs[r2] {
			c.Regs[PC] = c.targetFromPC(c.Regs[PC], isa.Addr16(word))
		}

	case isa.GETPID:
		c.Regs[r1] = int32(c.PID)
	case isa.GETPN:
		c.Regs[r1] = int32(c.vm.numProcessors)

	case isa.PUSH:
		sp := c.Regs[SP]
		if sp > c.StackBase || sp < c.vm.progEnd {
			return TermAddressOutOfRange, true
		}
		sp--
		if fault := c.writeWord(sp, c.Regs[r1]); fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[SP] = sp

	case isa.POP:
		sp := c.Regs[SP]
		if sp > c.StackBase || sp < c.vm.progEnd {
			return TermAddressOutOfRange, true
		}
		v, fault := c.readWord(sp)
		if fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[r1] = v
		c.Regs[SP] = sp + 1

	case isa.CALL:
		sp := c.Regs[SP]
		if sp > c.StackBase || sp-3 < c.vm.progEnd {
			return TermAddressOutOfRange, true
		}
		retAddr := c.Regs[PC]
		target := retAddr + isa.Addr20(word)
		sp--
		if fault := c.writeWord(sp, retAddr); fault {
			return TermAddressOutOfRange, true
		}
		sp--
		if fault := c.writeWord(sp, c.Regs[FP]); fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[FP] = sp
		sp--
		if fault := c.writeWord(sp, 0); fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[SP] = sp
		c.Regs[PC] = target

	case isa.RET:
		sp := c.Regs[SP]
		if sp+3 > c.StackBase || sp < c.vm.progEnd {
			return TermAddressOutOfRange, true
		}
		retVal, fault := c.readWord(sp)
		if fault {
			return TermAddressOutOfRange, true
		}
		sp++
		savedFP, fault := c.readWord(sp)
		if fault {
			return TermAddressOutOfRange, true
		}
		sp++
		retAddr, fault := c.readWord(sp)
		if fault {
			return TermAddressOutOfRange, true
		}
		sp++
		if fault := c.writeWord(savedFP-1, retVal); fault {
			return TermAddressOutOfRange, true
		}
		c.Regs[FP] = savedFP
		c.Regs[SP] = sp
		c.Regs[PC] = retAddr

	case isa.CMPXCHG:
		addr := c.targetFromPC(c.Regs[PC], isa.Addr16(word))
		if addr < 0 || int(addr) >= MemWords {
			return TermAddressOutOfRange, true
		}
		c.vm.memLock.Lock()
		current := c.vm.memory[addr]
		if current == c.Regs[r1] {
			c.vm.memory[addr] = c.Regs[r2]
		}
		c.vm.memLock.Unlock()
		c.Regs[r1] = current

	default:
		return TermIllegalInstruction, true
	}

	return 0, false
}

// target resolves a 20-bit PC-relative displacement against the
// already-advanced PC (the address of the instruction after this one).
func (c *Core) target(disp int32) int32 {
	return c.Regs[PC] + disp
}

// targetFromPC resolves a 16-bit PC-relative displacement against an
// explicit base PC, used by branch and cmpxchg instructions.
func (c *Core) targetFromPC(base int32, disp int32) int32 {
	return base + disp
}

func (c *Core) readWord(addr int32) (int32, bool) {
	if addr < 0 || int(addr) >= MemWords {
		return 0, true
	}
	c.vm.memLock.Lock()
	v := c.vm.memory[addr]
	c.vm.memLock.Unlock()
	return v, false
}

func (c *Core) writeWord(addr int32, v int32) bool {
	if addr < 0 || int(addr) >= MemWords {
		return true
	}
	c.vm.memLock.Lock()
	c.vm.memory[addr] = v
	c.vm.memLock.Unlock()
	return false
}
