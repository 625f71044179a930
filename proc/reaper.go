package proc

import (
	"golang.org/x/sync/errgroup"

	"hexahedron/accnt"
)

// Reap concurrently finalizes a batch of zombie children a parent has
// already collected via Waitpid (or is abandoning because the parent
// itself exited): each zombie's accounting is folded into acc via
// accnt.Accnt_t.Add, and its PID is returned to the system bitmap.
// Per spec.md §4.F: "a dedicated low-priority reaper thread drains the
// reap list," fanned out here with golang.org/x/sync/errgroup since
// finalizing N unrelated zombies is embarrassingly parallel and no
// per-zombie step can fail in a way that should abort the others —
// Wait only ever returns nil, but the errgroup shape is kept so a
// future per-zombie step that can fail (e.g. flushing a pprof dump)
// slots in without changing Reap's signature.
func Reap(zombies []*Proc_t, acc *accnt.Accnt_t) error {
	var g errgroup.Group
	for _, z := range zombies {
		z := z
		g.Go(func() error {
			acc.Add(z.Accnt)
			pids.free(z.Pid)
			return nil
		})
	}
	return g.Wait()
}
