// Command dsx20 disassembles an x20 object or executable file: its
// insymbol and outsymbol tables, followed by the code section, listed
// word by word in address order. With -recursive, a flow walk starting
// from mainx20 and following call/jmp/branch targets decides which
// words are code, and words it never reaches print as nop, mirroring
// original_source/A1/P2/dsx20.c.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cipnrkorvo1/x20/pkg/isa"
	"github.com/cipnrkorvo1/x20/pkg/loader"
)

type objfile struct {
	insyms  []loader.Symbol
	outsyms []loader.Symbol
	code    []int32
}

func readFile(path string) (*objfile, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	br := bufio.NewReader(fp)
	header, err := loader.ReadHeader(br)
	if err != nil {
		return nil, err
	}
	insyms, err := loader.ReadSymbols(br, header.InsymWords)
	if err != nil {
		return nil, err
	}
	outsyms, err := loader.ReadSymbols(br, header.OutsymWords)
	if err != nil {
		return nil, err
	}
	code := make([]int32, header.CodeWords)
	for i := range code {
		if err := binary.Read(br, binary.LittleEndian, &code[i]); err != nil {
			return nil, fmt.Errorf("truncated code section: %w", err)
		}
	}
	return &objfile{insyms: insyms, outsyms: outsyms, code: code}, nil
}

func main() {
	log.SetFlags(0)
	recursive := flag.Bool("recursive", false, "walk reachable code from mainx20 instead of a flat listing")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		log.Fatal("usage: dsx20 [-recursive] <object-or-executable>")
	}

	f, err := readFile(args[0])
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Insymbol Section (%d entries)\n\n", len(f.insyms))
	for _, s := range f.insyms {
		fmt.Printf("%s %d\n", s.Name, s.Address)
	}
	fmt.Printf("\nOutsymbol Section (%d entries)\n\n", len(f.outsyms))
	for _, s := range f.outsyms {
		fmt.Printf("%s %d\n", s.Name, s.Address)
	}

	var isInstr []bool
	if *recursive {
		entry, ok := entryAddress(f.insyms)
		if !ok {
			log.Fatal("recursive walk requires a mainx20 insymbol")
		}
		isInstr = classify(f.code, entry)
	}

	outsymAt := make(map[int32]bool, len(f.outsyms))
	for _, s := range f.outsyms {
		outsymAt[s.Address] = true
	}

	fmt.Printf("\nObject Code (%d words)\n\n", len(f.code))
	printCode(f.code, isInstr, outsymAt)
}

func entryAddress(symbols []loader.Symbol) (int32, bool) {
	for _, s := range symbols {
		if s.Name == loader.EntrySymbol {
			return s.Address, true
		}
	}
	return 0, false
}

// classify performs a static flow walk from entry, marking every word
// reachable as code reached either by falling through a non-terminal
// instruction or by a call/jmp/branch target, exactly as dsx20.c's
// parse_code — except the walk's root is the mainx20 entry point
// rather than word 0, matching this command's recursive-disassembly
// contract.
func classify(code []int32, entry int32) []bool {
	isInstr := make([]bool, len(code)+1)
	if entry >= 0 && int(entry) < len(code) {
		isInstr[entry] = true
	}
	for pc := 0; pc < len(code); pc++ {
		if int32(pc) != entry && !isInstr[pc] {
			continue
		}
		word := code[pc]
		op := isa.DecodeOpcode(word)
		target := int32(-1)
		switch isa.FormatOf(op) {
		case isa.FAddr, isa.FRegAddr:
			if uint32(word)>>12 != 0 {
				target = isa.Addr20(word) + int32(pc) + 1
			}
		case isa.FRegRegAddr:
			if uint32(word)>>16 != 0 {
				target = isa.Addr16(word) + int32(pc) + 1
			}
		}
		if op != isa.JMP && op != isa.HALT && op != isa.RET && pc+1 < len(isInstr) {
			isInstr[pc+1] = true
		}
		if target != -1 && (op == isa.JMP || op == isa.BEQ || op == isa.BLT || op == isa.BGT || op == isa.CALL) {
			if int(target) < pc && int(target) < len(isInstr) && !isInstr[target] {
				pc = int(target) - 1
			}
			if target >= 0 && int(target) < len(isInstr) {
				isInstr[target] = true
			}
		}
	}
	return isInstr
}

// printCode prints one line per code word: offset, raw hex, mnemonic,
// operands. When isInstr is non-nil, words it marks unreached print as
// "nop" rather than whatever bytes happen to occupy them, matching
// print_code's INS_NOP substitution for unreached lines. Address
// operands pointing at a still-unresolved outsymbol print
// "[undefined]" instead of a target address.
func printCode(code []int32, isInstr []bool, outsymAt map[int32]bool) {
	for pc, word := range code {
		op := isa.DecodeOpcode(word)
		if isInstr != nil && !isInstr[pc] {
			op = isa.NOP
		}
		fmt.Printf("%07d   %08x   %-8s    ", pc, uint32(word), isa.Mnemonic(op))
		printOperands(op, word, int32(pc), outsymAt)
		fmt.Println()
	}
}

func printOperands(op isa.Opcode, word int32, pc int32, outsymAt map[int32]bool) {
	switch isa.FormatOf(op) {
	case isa.FOp, isa.FInvalid:
	case isa.FAddr:
		printTarget(pc, isa.Addr20(word), outsymAt)
	case isa.FReg:
		fmt.Printf("r%d", isa.Reg1(word))
	case isa.FRegConst:
		fmt.Printf("r%d, %d", isa.Reg1(word), isa.Addr20(word))
	case isa.FRegAddr:
		fmt.Printf("r%d, ", isa.Reg1(word))
		printTarget(pc, isa.Addr20(word), outsymAt)
	case isa.FRegReg:
		fmt.Printf("r%d, r%d", isa.Reg1(word), isa.Reg2(word))
	case isa.FRegOff:
		fmt.Printf("r%d, %d(r%d)", isa.Reg1(word), isa.Addr16(word), isa.Reg2(word))
	case isa.FRegRegAddr:
		fmt.Printf("r%d, r%d, ", isa.Reg1(word), isa.Reg2(word))
		printTarget(pc, isa.Addr16(word), outsymAt)
	}
}

func printTarget(pc int32, disp int32, outsymAt map[int32]bool) {
	if outsymAt[pc] {
		fmt.Print("[undefined]")
		return
	}
	fmt.Print(disp + pc + 1)
}
