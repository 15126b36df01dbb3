// Package vm implements the x20 multiprocessor virtual machine: the
// memory image, the symbol table, and the façade that spawns cores
// and collects their termination codes.
//
// Instruction set
//
// See package isa for the opcode table and instruction formats. Each
// core runs an independent fetch-decode-execute loop over the shared
// memory image; see core.go.
//
// Memory model
//
// Memory is a flat array of MemWords 32-bit words. memory[0] is the
// program's entry base; progEnd is the one-past-last code word, and
// code never extends past it. Addresses index words, not bytes.
//
// Concurrency
//
// Cores run as goroutines, one per processor, scheduled in parallel
// by the Go runtime exactly as the original used one OS thread per
// core. A single memory mutex serializes every word-level memory
// access that an instruction performs; cmpxchg holds it across its
// whole read-compare-write, other instructions hold it only around
// the one memory operation they perform. A separate trace mutex
// serializes the per-instruction trace output; the lock order is
// always trace before memory, never the reverse (see printTrace).
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cipnrkorvo1/x20/pkg/isa"
	"github.com/cipnrkorvo1/x20/pkg/loader"
)

// MemWords is the size of VM memory in 32-bit words.
const MemWords = 0x3FFFF

// MaxProcessors bounds the number of cores Execute may spawn.
const MaxProcessors = 32

// Register conventions.
const (
	FP = 13 // frame pointer
	SP = 14 // stack pointer
	PC = 15 // program counter
)

// Termination codes, per SPEC_FULL.md §8.
const (
	TermNormalTermination  = 0
	TermDivideByZero       = -5
	TermAddressOutOfRange  = -6
	TermIllegalInstruction = -7
)

// Errors returned by VM façade methods outside of core execution.
var (
	ErrBadProcessorCount = errors.New("vm: processor count out of range")
	ErrOutOfRange        = errors.New("vm: address out of range")
)

// Symbol is re-exported for callers that only import pkg/vm.
type Symbol = loader.Symbol

var defaultTraceWriter io.Writer = os.Stderr

// VM owns the shared memory image and symbol table for a single
// program run. A VM must be loaded via Load before Execute is called.
type VM struct {
	memory     [MemWords]int32
	progEnd    int32
	entryPoint int32
	symbols    []Symbol

	numProcessors int
	trace         bool

	memLock   sync.Mutex
	traceLock sync.Mutex
	traceLog  *slog.Logger
}

// New returns a freshly initialized VM with zeroed memory, ready for Load.
func New() *VM {
	vm := &VM{}
	vm.traceLog = slog.New(&traceHandler{mu: &vm.traceLock, vm: vm, out: defaultTraceWriter})
	return vm
}

// SetTraceOutput redirects trace output, mainly useful in tests.
func (vm *VM) SetTraceOutput(w io.Writer) {
	vm.traceLog = slog.New(&traceHandler{mu: &vm.traceLock, vm: vm, out: w})
}

// Load parses a fully-linked executable from r (see pkg/loader),
// copies its code into memory[0:progEnd), records the insymbol table,
// and resolves the entry point.
func (vm *VM) Load(r io.Reader) error {
	img, err := loader.Load(r)
	if err != nil {
		return err
	}
	if len(img.Code) > MemWords {
		return fmt.Errorf("%w: code section of %d words exceeds memory of %d words", loader.ErrNotValid, len(img.Code), MemWords)
	}
	copy(vm.memory[:], img.Code)
	vm.progEnd = int32(len(img.Code))
	vm.symbols = img.Symbols
	vm.entryPoint = img.EntryPoint
	return nil
}

// GetAddress resolves a label to its code address via the insymbol table.
func (vm *VM) GetAddress(label string) (int32, bool) {
	for _, s := range vm.symbols {
		if s.Name == label {
			return s.Address, true
		}
	}
	return 0, false
}

// Symbols returns the insymbol table loaded from the executable.
func (vm *VM) Symbols() []Symbol {
	return vm.symbols
}

// ProgEnd returns the one-past-last code word address.
func (vm *VM) ProgEnd() int32 {
	return vm.progEnd
}

// EntryPoint returns the resolved mainx20 address.
func (vm *VM) EntryPoint() int32 {
	return vm.entryPoint
}

// GetWord reads memory[addr]. It is unlocked: callers outside of
// Execute are expected to run single-threaded (setup/teardown only).
func (vm *VM) GetWord(addr int32) (int32, error) {
	if addr < 0 || int(addr) >= MemWords {
		return 0, ErrOutOfRange
	}
	return vm.memory[addr], nil
}

// PutWord writes word to memory[addr]. See GetWord for locking notes.
func (vm *VM) PutWord(addr int32, word int32) error {
	if addr < 0 || int(addr) >= MemWords {
		return ErrOutOfRange
	}
	vm.memory[addr] = word
	return nil
}

// Execute spawns numProcessors cores as goroutines, each seeded with
// PC=entryPoint, SP=initialSP[i], pid=i, and zeroed general-purpose
// registers. It waits for every core to terminate and returns their
// termination codes in processor order.
func (vm *VM) Execute(numProcessors int, initialSP []int32, trace bool) ([]int32, error) {
	if numProcessors <= 0 || numProcessors > MaxProcessors || len(initialSP) < numProcessors {
		return nil, ErrBadProcessorCount
	}
	vm.numProcessors = numProcessors
	vm.trace = trace

	statuses := make([]int32, numProcessors)
	var wg sync.WaitGroup
	wg.Add(numProcessors)
	for i := 0; i < numProcessors; i++ {
		core := &Core{
			StackBase: initialSP[i],
			PID:       i,
			vm:        vm,
		}
		core.Regs[SP] = initialSP[i]
		core.Regs[PC] = vm.entryPoint
		go func(c *Core, slot *int32) {
			defer wg.Done()
			*slot = c.run()
		}(core, &statuses[i])
	}
	wg.Wait()
	return statuses, nil
}

// printTrace logs the register file and the disassembly of the
// just-executed instruction. The trace lock is acquired first, and
// the memory lock is acquired only inside that critical section (for
// the disassembly's memory read) -- never the reverse order.
func (vm *VM) printTrace(core *Core, executedPC int32) {
	vm.traceLog.Log(context.Background(), slog.LevelInfo, "step",
		slog.Int("pid", core.PID),
		slog.Int("pc", int(executedPC)),
		slog.String("regs", formatRegs(core.Regs)),
	)
}

func formatRegs(regs [16]int32) string {
	s := ""
	for i, r := range regs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("r%d=%08x", i, uint32(r))
	}
	return s
}

// traceHandler is a slog.Handler whose Handle method holds the VM's
// trace mutex for the duration of the write, acquiring the memory
// mutex only within that section to read the word being disassembled.
// Grounded on rcornwell-S370/util/logger.LogHandler's mutex-guarded
// slog.Handler wrapper, adapted so the same mutex also orders the
// memory access the spec requires.
type traceHandler struct {
	mu  *sync.Mutex
	vm  *VM
	out io.Writer
}

func (h *traceHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *traceHandler) WithGroup(name string) slog.Handler { return h }

func (h *traceHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var pid, pc int
	var regs string
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "pid":
			pid = int(a.Value.Int64())
		case "pc":
			pc = int(a.Value.Int64())
		case "regs":
			regs = a.Value.String()
		}
		return true
	})

	h.vm.memLock.Lock()
	word := h.vm.memory[pc]
	h.vm.memLock.Unlock()

	text, derr := isa.Disassemble(word, uint32(pc))
	if derr != nil {
		text = fmt.Sprintf("<%v>", derr)
	}
	_, err := fmt.Fprintf(h.out, "core %d pc=%d %s\n%s\n\n", pid, pc, text, regs)
	return err
}
