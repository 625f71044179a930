// Command slabgeom reports the slab allocator's per-cache layout for a
// fixed set of tuning object sizes and verifies the signal-delivery
// trampoline's machine code contains no instruction beyond the shape
// it is meant to have.
//
// The original biscuit build used a small Go program
// (scripts/features.go) to statically report allocation-site
// information about the kernel's own source; this tool reports the
// derived layout of the kernel's own tuning constants instead, in the
// same "small standalone Go program that inspects the kernel build"
// spirit.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/arch/x86/x86asm"

	"hexahedron/signal"
	"hexahedron/slab"
)

// referenceSizes are the object sizes this report covers by default:
// round numbers spanning the slab allocator's small/medium/large range,
// not any one cache actually instantiated elsewhere in the module.
var referenceSizes = []uint{16, 32, 64, 128, 256, 512, 1024, 2048}

func main() {
	align := flag.Uint("align", 8, "object alignment in bytes")
	flag.Parse()

	fmt.Printf("%-10s %-8s %-8s %-10s %-8s %-6s\n",
		"objsize", "align", "stride", "slabsize", "objs", "waste")
	for _, sz := range referenceSizes {
		c := slab.NewCache(sz, *align, nil, nil)
		g := c.Geometry()
		fmt.Printf("%-10d %-8d %-8d %-10d %-8d %-6d\n",
			g.ObjSize, g.Align, g.Stride, g.SlabSize, g.ObjsPerSlab, g.Waste)
	}

	if err := checkTrampoline(); err != nil {
		log.Fatalf("signal trampoline check failed: %v", err)
	}
	fmt.Println("signal trampoline: ok")
}

// checkTrampoline disassembles signal.Trampoline and verifies it
// contains exactly the instructions the signal-delivery path relies on:
// one CALL into the installed handler and one trailing SYSCALL back
// into the kernel (signal.SYS_SIGRETURN), nothing else that could
// transfer control or escalate privilege. The trampoline is handed to
// userspace verbatim and run on the user stack, so an unexpected
// instruction there is a security bug, not a performance one.
func checkTrampoline() error {
	code := signal.Trampoline
	var calls, syscalls int
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return fmt.Errorf("offset %d: %w", off, err)
		}
		fmt.Fprintf(os.Stdout, "  %04x  %-24s %s\n", off, hexBytes(code[off:off+inst.Len]), x86asm.GNUSyntax(inst, 0, nil))
		switch inst.Op {
		case x86asm.CALL:
			calls++
		case x86asm.SYSCALL:
			syscalls++
		case x86asm.JMP, x86asm.SYSENTER, x86asm.RET, x86asm.INT, x86asm.INTO:
			return fmt.Errorf("offset %d: disallowed instruction %v in trampoline", off, inst.Op)
		default:
			for _, j := range jccOps {
				if inst.Op == j {
					return fmt.Errorf("offset %d: disallowed branch %v in trampoline", off, inst.Op)
				}
			}
		}
		off += inst.Len
	}
	if calls != 1 {
		return fmt.Errorf("expected exactly one CALL, found %d", calls)
	}
	if syscalls != 1 {
		return fmt.Errorf("expected exactly one SYSCALL, found %d", syscalls)
	}
	if code[len(code)-1] != 0x05 || code[len(code)-2] != 0x0f {
		return fmt.Errorf("trampoline must end in the syscall opcode (0f 05)")
	}
	return nil
}

// jccOps lists the conditional-jump mnemonics x86asm decodes to
// distinct Op values; none belong in a straight-line trampoline.
var jccOps = []x86asm.Op{
	x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE,
	x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
	x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
}

func hexBytes(b []byte) string {
	s := ""
	for _, v := range b {
		s += fmt.Sprintf("%02x ", v)
	}
	return s
}
