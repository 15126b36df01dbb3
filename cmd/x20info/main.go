// Command x20info prints an x20 object or executable file's section
// word counts and symbol tables without executing or disassembling
// its code, mirroring original_source/A1/P1/binary_info.c's role as a
// quick-look format inspector.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cipnrkorvo1/x20/pkg/objfile"
)

func main() {
	log.SetFlags(0)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		log.Fatal("usage: x20info <file>")
	}

	fp, err := os.Open(args[0])
	if err != nil {
		log.Fatalf("could not open file: %s", args[0])
	}
	defer fp.Close()

	fmt.Printf("File: %s\n", args[0])
	info, err := objfile.Inspect(fp)
	if err != nil {
		log.Fatal(err)
	}

	kind := "executable (fully linked)"
	if !info.IsExecutable() {
		kind = "object (unresolved outsymbols)"
	}
	fmt.Printf("Kind: %s\n", kind)
	fmt.Printf("Insymbol words: %d (%d symbols)\n", info.Header.InsymWords, len(info.Insymbols))
	fmt.Printf("Outsymbol words: %d (%d symbols)\n", info.Header.OutsymWords, len(info.Outsymbols))
	fmt.Printf("Code words: %d\n", info.Header.CodeWords)

	fmt.Println("\nInsymbols:")
	for _, s := range info.Insymbols {
		fmt.Printf("  %-16s @ %d\n", s.Name, s.Address)
	}
	fmt.Println("\nOutsymbols:")
	for _, s := range info.Outsymbols {
		fmt.Printf("  %-16s @ %d\n", s.Name, s.Address)
	}
}
