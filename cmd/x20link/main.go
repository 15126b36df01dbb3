// Command x20link links one or more x20 object files into a single
// .exe (fully resolved) or .obj (outsymbols remain) file, mirroring
// original_source/A2/P1/linkx20.c.
package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/cipnrkorvo1/x20/pkg/linker"
)

func main() {
	log.SetFlags(0)
	out := flag.String("o", "mainx20", "output file name, without extension")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("usage: x20link [-o <name>] <obj>...")
	}

	inputs := make([]linker.Input, len(args))
	files := make([]*os.File, len(args))
	for i, name := range args {
		fp, err := os.Open(name)
		if err != nil {
			log.Fatalf("invalid file name %s", name)
		}
		files[i] = fp
		inputs[i] = linker.Input{Name: name, Reader: fp}
	}
	defer func() {
		for _, fp := range files {
			fp.Close()
		}
	}()

	result, err := linker.Link(inputs)
	if err != nil {
		log.Fatal(err)
	}

	ext := ".exe"
	if !result.IsExecutable() {
		ext = ".obj"
		log.Printf("warning: %d outsymbol(s) unresolved, writing a partial object", len(result.Outsymbols))
	}
	outName := strings.TrimSuffix(*out, ".exe") + ext

	fp, err := os.Create(outName)
	if err != nil {
		log.Fatalf("failed to write to executable: %v", err)
	}
	defer fp.Close()
	if err := linker.Write(fp, result); err != nil {
		log.Fatalf("failed to write to executable: %v", err)
	}
}
