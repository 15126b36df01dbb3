// Package objfile inspects an x20 object or executable file's header
// and symbol tables without executing or disassembling its code,
// mirroring original_source/A1/P1/binary_info.c's role as a
// non-invasive format inspector (reinterpreted for the x20 linked-file
// format rather than ELF, which this toolchain never produces).
package objfile

import (
	"bufio"
	"io"

	"github.com/cipnrkorvo1/x20/pkg/loader"
)

// Info is a snapshot of a file's header and symbol tables.
type Info struct {
	Header     loader.Header
	Insymbols  []loader.Symbol
	Outsymbols []loader.Symbol
}

// IsExecutable reports whether the file has no outsymbols, i.e. it is
// fully linked and can be passed to loader.Load / pkg/vm.
func (i *Info) IsExecutable() bool {
	return len(i.Outsymbols) == 0
}

// Inspect reads a file's header and both symbol tables, leaving the
// code section unread.
func Inspect(r io.Reader) (*Info, error) {
	br := bufio.NewReader(r)
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
	return &Info{Header: header, Insymbols: insyms, Outsymbols: outsyms}, nil
}
