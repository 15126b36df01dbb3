// Package loader parses the x20 linked-executable file format (see
// SPEC_FULL.md §8) into an in-memory image ready to be placed into VM
// memory. It never touches VM memory directly so that pkg/objfile can
// reuse it purely to inspect a file's header and symbol table.
package loader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// SymbolNameBytes is the on-disk width, in bytes, of a symbol name.
const SymbolNameBytes = 16

// EntrySymbol is the name of the one insymbol that must resolve to the
// program's entry point.
const EntrySymbol = "mainx20"

// Errors returned by Load. These map onto §8's VMX20_* error taxonomy;
// callers that need the numeric codes translate via errors.Is.
var (
	ErrFileNotFound       = errors.New("loader: file not found")
	ErrContainsOutsymbols = errors.New("loader: executable contains unresolved outsymbols")
	ErrNotValid           = errors.New("loader: file is not a valid executable")
)

// Symbol is a named label resolved to a code-word address.
type Symbol struct {
	Name    string
	Address int32
}

// Header holds the three word counts at the start of every object or
// executable file, before any of the sections have been parsed.
type Header struct {
	InsymWords  int32
	OutsymWords int32
	CodeWords   int32
}

// Image is the result of loading a fully-linked executable: the code
// section ready to be copied into VM memory, the resolved insymbol
// table, and the entry point address.
type Image struct {
	Code       []int32
	Symbols    []Symbol
	EntryPoint int32
}

// ReadHeader reads just the three leading word counts, used by
// pkg/objfile to report section sizes without loading the file.
func ReadHeader(r io.Reader) (Header, error) {
	var words [3]int32
	if err := readWords(r, words[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: truncated header", ErrNotValid)
		}
		return Header{}, err
	}
	return Header{InsymWords: words[0], OutsymWords: words[1], CodeWords: words[2]}, nil
}

// ReadSymbols reads words/5 symbol entries starting at the reader's current
// position. Each entry is SymbolNameBytes of NUL-padded name followed by
// one address word.
func ReadSymbols(r io.Reader, words int32) ([]Symbol, error) {
	if words%5 != 0 {
		return nil, fmt.Errorf("%w: symbol section word count %d not a multiple of 5", ErrNotValid, words)
	}
	count := int(words / 5)
	symbols := make([]Symbol, 0, count)
	nameBuf := make([]byte, SymbolNameBytes)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, fmt.Errorf("%w: truncated symbol table", ErrNotValid)
		}
		var addr int32
		if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
			return nil, fmt.Errorf("%w: truncated symbol table", ErrNotValid)
		}
		symbols = append(symbols, Symbol{Name: cString(nameBuf), Address: addr})
	}
	return symbols, nil
}

// Load parses a fully-linked executable: it fails if the outsymbol
// section is non-empty, if the code word count disagrees with the
// bytes actually present, or if mainx20 is duplicated or missing.
func Load(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	header, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}
	if header.OutsymWords != 0 {
		return nil, ErrContainsOutsymbols
	}
	insyms, err := ReadSymbols(br, header.InsymWords)
	if err != nil {
		return nil, err
	}

	code := make([]int32, header.CodeWords)
	var wordsRead int32
	for ; wordsRead < header.CodeWords; wordsRead++ {
		if err := binary.Read(br, binary.LittleEndian, &code[wordsRead]); err != nil {
			break
		}
	}
	if wordsRead != header.CodeWords {
		return nil, fmt.Errorf("%w: code section declared %d words, found %d", ErrNotValid, header.CodeWords, wordsRead)
	}

	entry, err := findEntry(insyms)
	if err != nil {
		return nil, err
	}

	return &Image{Code: code, Symbols: insyms, EntryPoint: entry}, nil
}

func findEntry(symbols []Symbol) (int32, error) {
	found := false
	var addr int32
	for _, s := range symbols {
		if s.Name != EntrySymbol {
			continue
		}
		if found {
			return 0, fmt.Errorf("%w: duplicate %s symbol", ErrNotValid, EntrySymbol)
		}
		found = true
		addr = s.Address
	}
	if !found {
		return 0, fmt.Errorf("%w: %s not defined", ErrNotValid, EntrySymbol)
	}
	return addr, nil
}

func readWords(r io.Reader, out []int32) error {
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return err
		}
	}
	return nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
