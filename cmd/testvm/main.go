// Command testvm loads and runs an x20 executable, optionally setting
// initial memory values by label before running and printing them back
// afterward, mirroring original_source/A2/P2/testvm.c.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cipnrkorvo1/x20/pkg/vm"
)

const stackSize = 1000

func main() {
	log.SetFlags(0)

	args := os.Args[1:]
	if len(args) < 1 {
		log.Fatal("usage: testvm <executable> [-t] [-p<N>] [var] [var=value]...")
	}

	fp, err := os.Open(args[0])
	if err != nil {
		log.Fatal(err)
	}
	defer fp.Close()

	machine := vm.New()
	if err := machine.Load(fp); err != nil {
		log.Fatalf("fatal error: %v", err)
	}

	trace := false
	processors := 1
	var printLabels []string
	// -t and -p<N> arrive concatenated, e.g. -p4, not as -p 4 or -p=4;
	// matched by hand here rather than through the flag package.
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") {
			switch {
			case arg == "-t":
				trace = true
			case strings.HasPrefix(arg, "-p") && len(arg) > 2:
				n, err := strconv.Atoi(arg[2:])
				if err != nil || n <= 0 {
					log.Fatal("must have more than 0 processors")
				}
				processors = n
			default:
				log.Fatalf("invalid option %s", arg)
			}
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			printLabels = append(printLabels, arg)
			continue
		}
		addr, ok := machine.GetAddress(name)
		if !ok {
			log.Printf("failed to retrieve address for %s", name)
			continue
		}
		word := parseWord(value)
		if err := machine.PutWord(addr, word); err != nil {
			log.Printf("failed to put word at addr %d", addr)
		}
	}

	initialSP := make([]int32, processors)
	for i := range initialSP {
		initialSP[i] = int32(vm.MemWords) - 1 - int32(stackSize*i)
	}

	statuses, err := machine.Execute(processors, initialSP, trace)
	if err != nil {
		log.Fatalf("fatal error, processors failed to start: %v", err)
	}
	for i, status := range statuses {
		if status == vm.TermNormalTermination {
			continue
		}
		log.Printf("[%d] error: code %d (%s)", i, status, describeStatus(status))
	}

	if len(printLabels) > 0 {
		fmt.Println("====================== RESULTS =======================")
		fmt.Println("[###]            Label:     Hex      Decimal    Float ")
		fmt.Println("------------------------------------------------------")
		for _, name := range printLabels {
			addr, ok := machine.GetAddress(name)
			if !ok {
				log.Printf("failed to retrieve address for %s", name)
				continue
			}
			word, err := machine.GetWord(addr)
			if err != nil {
				log.Printf("failed to get word at addr %d", addr)
				continue
			}
			fmt.Printf("[%.3x] %16s: 0x%.8x %10d %8f\n", addr, name, uint32(word), word, vm.BitsToFloat32(word))
		}
	}
}

func parseWord(s string) int32 {
	if strings.ContainsAny(s, "f.") {
		f, _ := strconv.ParseFloat(s, 32)
		return vm.Float32ToBits(float32(f))
	}
	n, _ := strconv.ParseInt(s, 10, 32)
	return int32(n)
}

func describeStatus(status int32) string {
	switch status {
	case vm.TermDivideByZero:
		return "division by zero"
	case vm.TermAddressOutOfRange:
		return "address out of range"
	case vm.TermIllegalInstruction:
		return "illegal instruction"
	default:
		return "unknown"
	}
}
