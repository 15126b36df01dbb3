package vm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cipnrkorvo1/x20/pkg/isa"
)

// opWord builds an instruction word directly from an opcode and its
// operand fields, so tests can assemble small programs by hand.
func opWord(op isa.Opcode, r1, r2 int, field int32, width int) int32 {
	word := int32(op)
	word |= int32(r1&0xf) << 8
	switch width {
	case 20:
		word |= (field & 0xfffff) << 12
	case 16:
		word |= int32(r2&0xf) << 12
		word |= (field & 0xffff) << 16
	case 0:
		word |= int32(r2&0xf) << 12
	}
	return word
}

func name16(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

// buildExecutable assembles a minimal linked-executable byte stream
// with a single mainx20 symbol at address 0 and the given code words.
func buildExecutable(t *testing.T, code []int32) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	write := func(v int32) {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(5) // one insymbol (5 words)
	write(0) // no outsymbols
	write(int32(len(code)))
	n := name16("mainx20")
	buf.Write(n[:])
	write(0) // mainx20 at address 0
	for _, w := range code {
		write(w)
	}
	return buf.Bytes()
}

func TestHaltTerminatesNormally(t *testing.T) {
	code := []int32{int32(isa.HALT)}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	statuses, err := v.Execute(1, []int32{int32(MemWords - 1)}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermNormalTermination {
		t.Errorf("status = %d, want %d", statuses[0], TermNormalTermination)
	}
}

func TestDivideByZeroFaults(t *testing.T) {
	code := []int32{
		opWord(isa.DIVI, 1, 2, 0, 0), // r1 / r2, both zero
		int32(isa.HALT),
	}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	statuses, err := v.Execute(1, []int32{int32(MemWords - 1)}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermDivideByZero {
		t.Errorf("status = %d, want %d", statuses[0], TermDivideByZero)
	}
}

func TestIllegalOpcodeFaults(t *testing.T) {
	code := []int32{0x7f}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	statuses, err := v.Execute(1, []int32{int32(MemWords - 1)}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermIllegalInstruction {
		t.Errorf("status = %d, want %d", statuses[0], TermIllegalInstruction)
	}
}

func TestIntegerArithmeticAndLoop(t *testing.T) {
	// r1 = 0; r2 = 5; r3 = 1
	// loop: r1 += r3; r2 -= r3; if r2 > 0 goto loop (bgt against r4 = 0)
	code := []int32{
		opWord(isa.LDIMM, 1, 0, 0, 20),
		opWord(isa.LDIMM, 2, 0, 5, 20),
		opWord(isa.LDIMM, 3, 0, 1, 20),
		opWord(isa.LDIMM, 4, 0, 0, 20), // r4 = 0, loop sentinel
		opWord(isa.ADDI, 1, 3, 0, 0),   // r1 += r3
		opWord(isa.SUBI, 2, 3, 0, 0),   // r2 -= r3
		opWord(isa.BGT, 2, 4, -3, 16),  // if r2 > r4 goto ADDI (disp -3)
		int32(isa.HALT),
	}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	statuses, err := v.Execute(1, []int32{int32(MemWords - 1)}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermNormalTermination {
		t.Fatalf("status = %d, want normal termination", statuses[0])
	}
}

func TestPushStoresAtThePostDecrementAddress(t *testing.T) {
	const val = int32(42)
	code := []int32{
		opWord(isa.LDIMM, 1, 0, val, 20),
		opWord(isa.PUSH, 1, 0, 0, 0),
		int32(isa.HALT),
	}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sp := int32(MemWords - 1)
	statuses, err := v.Execute(1, []int32{sp}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermNormalTermination {
		t.Fatalf("status = %d, want normal termination", statuses[0])
	}
	got, err := v.GetWord(sp - 1)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if got != val {
		t.Errorf("memory[sp-1] = %d, want %d (push must decrement sp before storing)", got, val)
	}
}

func TestPopReadsAtSPBeforeIncrementing(t *testing.T) {
	const poppedAddr = int32(200) // also used as the core's initial sp
	const scratchAddr = int32(300)
	const val = int32(99)

	const storePC = int32(1)
	storeDisp := scratchAddr - (storePC + 1)
	code := []int32{
		opWord(isa.POP, 1, 0, 0, 0),
		opWord(isa.STORE, 1, 0, storeDisp, 20),
		int32(isa.HALT),
	}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := v.PutWord(poppedAddr, val); err != nil {
		t.Fatalf("PutWord: %v", err)
	}
	statuses, err := v.Execute(1, []int32{poppedAddr}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermNormalTermination {
		t.Fatalf("status = %d, want normal termination", statuses[0])
	}
	got, err := v.GetWord(scratchAddr)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if got != val {
		t.Errorf("popped value = %d, want %d (pop must read at sp before incrementing it)", got, val)
	}
}

func TestCallEstablishesFrameThenRetRestoresIt(t *testing.T) {
	const origSP = int32(MemWords - 1)
	const initialFP = int32(5) // initialFP-1 is one past the 4-word program, an unused scratch word

	const callPC = int32(1)
	const calleePC = int32(3)
	callDisp := calleePC - (callPC + 1)

	code := []int32{
		opWord(isa.LDIMM, FP, 0, initialFP, 20), // [0] fp = initialFP
		opWord(isa.CALL, 0, 0, callDisp, 20),     // [1] call calleePC
		int32(isa.HALT),                         // [2] control returns here
		opWord(isa.RET, 0, 0, 0, 0),              // [3] callee: return immediately
	}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	statuses, err := v.Execute(1, []int32{origSP}, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if statuses[0] != TermNormalTermination {
		t.Fatalf("status = %d, want normal termination", statuses[0])
	}

	retAddr, err := v.GetWord(origSP - 1)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if retAddr != callPC+1 {
		t.Errorf("saved return address = %d, want %d (call must push the post-call pc at sp-1)", retAddr, callPC+1)
	}
	savedFP, err := v.GetWord(origSP - 2)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if savedFP != initialFP {
		t.Errorf("saved fp = %d, want %d (call must push the caller's fp at sp-2)", savedFP, initialFP)
	}
	zeroSlot, err := v.GetWord(origSP - 3)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if zeroSlot != 0 {
		t.Errorf("return-value slot = %d, want 0 (call must push a zero at sp-3)", zeroSlot)
	}
	retVal, err := v.GetWord(initialFP - 1)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if retVal != 0 {
		t.Errorf("ret must store the return value at (restored fp)-1, got %d want 0", retVal)
	}
}

func TestCmpxchgRaceIsAtomic(t *testing.T) {
	// Every core attempts the same single cmpxchg(counter, expected=0, new=1).
	// Whichever core runs first wins and sets the counter to 1; every other
	// core observes a mismatch and leaves it untouched. The result is
	// deterministic regardless of scheduling order, which is exactly what
	// an atomic compare-and-swap guarantees.
	const n = 8
	counterAddr := int32(100)
	const cmpxchgPC = 2 // index of the CMPXCHG word below
	disp := counterAddr - (cmpxchgPC + 1)
	code := []int32{
		opWord(isa.LDIMM, 1, 0, 0, 20),          // r1 = 0 (expected)
		opWord(isa.LDIMM, 2, 0, 1, 20),          // r2 = 1 (new value)
		opWord(isa.CMPXCHG, 1, 2, disp, 16),     // r1 = cmpxchg(counter, r1, r2)
		int32(isa.HALT),
	}
	v := New()
	if err := v.Load(bytes.NewReader(buildExecutable(t, code))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := v.PutWord(counterAddr, 0); err != nil {
		t.Fatalf("PutWord: %v", err)
	}

	sps := make([]int32, n)
	for i := range sps {
		sps[i] = int32(MemWords - 1)
	}
	if _, err := v.Execute(n, sps, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := v.GetWord(counterAddr)
	if err != nil {
		t.Fatalf("GetWord: %v", err)
	}
	if got != 1 {
		t.Errorf("counter = %d, want 1 (exactly one winner regardless of scheduling)", got)
	}
}
