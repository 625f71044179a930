package proc

import (
	"hexahedron/defs"
	"hexahedron/fd"
	"hexahedron/sched"
)

// Fork creates a child of p: a copy-on-write clone of p's address space
// (vas.AS.Clone, per spec.md §4.E/§9's "fork marks every private page
// copy-on-write in both parent and child instead of copying eagerly"),
// a duplicate of every open file descriptor (fd.Copyfd, bumping each
// backing object's reference count rather than copying it), and a copy
// of the parent's signal action table (POSIX fork(2): handlers are
// inherited, unlike exec's reset-to-default). childBody runs as the
// new process's single thread on cpu, the simulated return-into-the-
// child path a real fork's "child gets a zero return value" takes.
func (p *Proc_t) Fork(cpu *sched.CPU, childBody func(t *Thread_t)) (*Proc_t, defs.Err_t) {
	child, err := NewProc(p.Name, p, p.Cwd)
	if err != 0 {
		return nil, err
	}

	child.Vas.Destroy()
	child.Vas = p.Vas.Clone()

	p.mu.Lock()
	type dupJob struct {
		n int
		f *fd.Fd_t
	}
	jobs := make([]dupJob, 0, len(p.Fds))
	for n, f := range p.Fds {
		jobs = append(jobs, dupJob{n, f})
	}
	p.mu.Unlock()

	child.Actions = p.Actions.Clone()

	for _, j := range jobs {
		nf, err := fd.Copyfd(j.f)
		if err != 0 {
			continue
		}
		child.mu.Lock()
		child.Fds[j.n] = nf
		if j.n >= child.nextFd {
			child.nextFd = j.n + 1
		}
		child.mu.Unlock()
	}

	if _, err := child.NewThread(cpu, childBody); err != 0 {
		return nil, err
	}
	return child, 0
}
