package objfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cipnrkorvo1/x20/pkg/loader"
)

func name16(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

func buildObject(t *testing.T, insyms, outsyms []loader.Symbol, codeWords int32) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	write := func(v int32) {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(int32(len(insyms) * 5))
	write(int32(len(outsyms) * 5))
	write(codeWords)
	for _, s := range insyms {
		n := name16(s.Name)
		buf.Write(n[:])
		write(s.Address)
	}
	for _, s := range outsyms {
		n := name16(s.Name)
		buf.Write(n[:])
		write(s.Address)
	}
	for i := int32(0); i < codeWords; i++ {
		write(0)
	}
	return buf.Bytes()
}

func TestInspectExecutableHasNoOutsymbols(t *testing.T) {
	data := buildObject(t, []loader.Symbol{{Name: "mainx20", Address: 0}}, nil, 3)
	info, err := Inspect(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !info.IsExecutable() {
		t.Errorf("IsExecutable() = false, want true")
	}
	if info.Header.CodeWords != 3 {
		t.Errorf("CodeWords = %d, want 3", info.Header.CodeWords)
	}
	if len(info.Insymbols) != 1 || info.Insymbols[0].Name != "mainx20" {
		t.Errorf("Insymbols = %v, want [mainx20]", info.Insymbols)
	}
}

func TestInspectPartialObjectHasOutsymbols(t *testing.T) {
	data := buildObject(t,
		[]loader.Symbol{{Name: "mainx20", Address: 0}},
		[]loader.Symbol{{Name: "helper", Address: 1}},
		2,
	)
	info, err := Inspect(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.IsExecutable() {
		t.Errorf("IsExecutable() = true, want false")
	}
	if len(info.Outsymbols) != 1 || info.Outsymbols[0].Name != "helper" {
		t.Errorf("Outsymbols = %v, want [helper]", info.Outsymbols)
	}
}

func TestInspectTruncatedFileFails(t *testing.T) {
	if _, err := Inspect(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Errorf("Inspect(truncated): got nil error")
	}
}
