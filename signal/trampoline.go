package signal

// Trampoline is the hand-encoded x86-64 return path spec.md §4.G's
// Delivery dispatch pushes onto the target thread's user stack below
// the faked-up return address: it pops the handler address into rax
// and the handler's argument (the signal number) into rdi, calls the
// handler through rax, then invokes
// sys_sigreturn (syscall number 15 in this module's table, matching
// spec.md §6's core syscall list) to restore the pre-signal register
// file saved by Delivery. Ground truth: this is the same role
// biscuit's (unretrieved) sigtramp plays; cmd/slabgeom disassembles it
// with golang.org/x/arch/x86/x86asm as a sanity check that the bytes
// below actually decode to the instructions the comment claims.
//
//	pop    rax
//	pop    rdi
//	call   rax
//	mov    eax, 15
//	syscall
var Trampoline = []byte{
	0x58,                   // pop rax
	0x5f,                   // pop rdi
	0xff, 0xd0,             // call rax
	0xb8, 0x0f, 0x00, 0x00, 0x00, // mov eax, 15
	0x0f, 0x05, // syscall
}

// SYS_SIGRETURN is the syscall number Trampoline invokes to restore the
// thread's pre-signal context, per spec.md §6's syscall table.
const SYS_SIGRETURN = 15
