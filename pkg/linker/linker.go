// Package linker combines one or more x20 object files into a single
// linked object or executable, grounded on
// original_source/A2/P1/linkx20.c: concatenate code sections, rebase
// each file's insymbols by its code offset, then resolve every
// outsymbol reference against the merged insymbol table, patching the
// referencing instruction's address field in place.
//
// An input may itself carry unresolved outsymbols (a partially linked
// object); Link happily consumes those alongside fresh object files,
// the same way repeated linkx20 invocations can chain.
package linker

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cipnrkorvo1/x20/pkg/isa"
	"github.com/cipnrkorvo1/x20/pkg/loader"
)

// Errors returned by Link and Write.
var (
	ErrNoEntryPoint    = errors.New("linker: no input defines mainx20")
	ErrDuplicateSymbol = errors.New("linker: duplicate insymbol")
	ErrEmptyInput      = errors.New("linker: no object files given")
)

// Input is one file to link, in the order it should be concatenated.
type Input struct {
	Name   string
	Reader io.Reader
}

// Output is a link result. Outsymbols is empty exactly when every
// reference resolved, i.e. this Output is a runnable executable rather
// than a partially linked object.
type Output struct {
	Code       []int32
	Insymbols  []loader.Symbol
	Outsymbols []loader.Symbol
}

// IsExecutable reports whether Output has no unresolved references and
// can be handed to pkg/loader.Load / pkg/vm directly.
func (o *Output) IsExecutable() bool {
	return len(o.Outsymbols) == 0
}

type parsedFile struct {
	name     string
	insyms   []loader.Symbol
	outsyms  []loader.Symbol
	code     []int32
	pcOffset int32
}

// Link reads every input in order, concatenates their code sections,
// and resolves outsymbol references against the merged insymbol table.
// References that still can't be resolved are carried forward into
// Output.Outsymbols (rebased to the merged code section) rather than
// failing the link, matching the original's "fall back to an .obj"
// behavior.
func Link(inputs []Input) (*Output, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}

	files := make([]*parsedFile, 0, len(inputs))
	var pcOffset int32
	haveEntry := false
	for _, in := range inputs {
		br := bufio.NewReader(in.Reader)
		header, err := loader.ReadHeader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		insyms, err := loader.ReadSymbols(br, header.InsymWords)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		outsyms, err := loader.ReadSymbols(br, header.OutsymWords)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		code := make([]int32, header.CodeWords)
		for i := range code {
			if err := binary.Read(br, binary.LittleEndian, &code[i]); err != nil {
				return nil, fmt.Errorf("%s: truncated code section: %w", in.Name, err)
			}
		}
		for _, s := range insyms {
			if s.Name == loader.EntrySymbol {
				haveEntry = true
			}
		}
		files = append(files, &parsedFile{name: in.Name, insyms: insyms, outsyms: outsyms, code: code, pcOffset: pcOffset})
		pcOffset += header.CodeWords
	}
	if !haveEntry {
		return nil, ErrNoEntryPoint
	}

	merged, err := mergeCode(files)
	if err != nil {
		return nil, err
	}
	insymbols, err := mergeInsymbols(files)
	if err != nil {
		return nil, err
	}
	outsymbols := resolveOutsymbols(files, merged, insymbols)

	return &Output{Code: merged, Insymbols: insymbols, Outsymbols: outsymbols}, nil
}

func mergeCode(files []*parsedFile) ([]int32, error) {
	var total int32
	for _, f := range files {
		total += int32(len(f.code))
	}
	merged := make([]int32, 0, total)
	for _, f := range files {
		merged = append(merged, f.code...)
	}
	return merged, nil
}

func mergeInsymbols(files []*parsedFile) ([]loader.Symbol, error) {
	seen := make(map[string]bool)
	var merged []loader.Symbol
	for _, f := range files {
		for _, s := range f.insyms {
			if seen[s.Name] {
				return nil, fmt.Errorf("%w: %q (in %s)", ErrDuplicateSymbol, s.Name, f.name)
			}
			seen[s.Name] = true
			merged = append(merged, loader.Symbol{Name: s.Name, Address: s.Address + f.pcOffset})
		}
	}
	return merged, nil
}

// resolveOutsymbols patches each outsymbol reference whose name has a
// definition in insymbols, rewriting the referencing instruction's
// displacement field to point at the new, merged-code-section address.
// References with no definition are returned, rebased, for the caller
// to carry into a partially linked object.
func resolveOutsymbols(files []*parsedFile, code []int32, insymbols []loader.Symbol) []loader.Symbol {
	defined := make(map[string]int32, len(insymbols))
	for _, s := range insymbols {
		defined[s.Name] = s.Address
	}

	var unresolved []loader.Symbol
	for _, f := range files {
		for _, s := range f.outsyms {
			pc := s.Address + f.pcOffset
			target, ok := defined[s.Name]
			if !ok {
				unresolved = append(unresolved, loader.Symbol{Name: s.Name, Address: pc})
				continue
			}
			patchAddress(code, pc, target-(pc+1))
		}
	}
	return unresolved
}

// patchAddress rewrites the address-bearing field of the instruction at
// pc to disp, dispatching on its format exactly as linkx20.c's switch
// on the low opcode byte does: a 20-bit field for op/addr and
// op/reg/addr instructions, a 16-bit field for op/reg/reg/addr ones.
func patchAddress(code []int32, pc int32, disp int32) {
	if pc < 0 || int(pc) >= len(code) {
		return
	}
	word := code[pc]
	op := isa.DecodeOpcode(word)
	switch isa.FormatOf(op) {
	case isa.FAddr, isa.FRegAddr:
		code[pc] = (word & 0xfff) | ((disp << 12) & ^int32(0xfff))
	case isa.FRegRegAddr:
		code[pc] = (word & 0xffff) | ((disp << 16) & ^int32(0xffff))
	}
}

// Write serializes out in the x20 object/executable file format: three
// section-length words, the insymbol table, the outsymbol table (empty
// for an executable), then the code section.
func Write(w io.Writer, out *Output) error {
	bw := bufio.NewWriter(w)
	write := func(v int32) error { return binary.Write(bw, binary.LittleEndian, v) }

	if err := write(int32(len(out.Insymbols) * 5)); err != nil {
		return err
	}
	if err := write(int32(len(out.Outsymbols) * 5)); err != nil {
		return err
	}
	if err := write(int32(len(out.Code))); err != nil {
		return err
	}
	if err := writeSymbols(bw, out.Insymbols); err != nil {
		return err
	}
	if err := writeSymbols(bw, out.Outsymbols); err != nil {
		return err
	}
	for _, c := range out.Code {
		if err := write(c); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeSymbols(w io.Writer, symbols []loader.Symbol) error {
	for _, s := range symbols {
		var name [loader.SymbolNameBytes]byte
		copy(name[:], s.Name)
		if _, err := w.Write(name[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, s.Address); err != nil {
			return err
		}
	}
	return nil
}
