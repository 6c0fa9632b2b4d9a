/*package thread contains functions useful for multi-threading within a single
rank.*/
package thread

import (
	"runtime"
	"sync"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Set sets the number of OS threads Go code may run on. n = -1 uses every
// core.
func Set(n int) error {
	if n == -1 {
		n = runtime.NumCPU()
	}
	if n > runtime.NumCPU() {
		return ddgerr.ConfigErrorf("%d threads requested, but your system "+
			"only has %d cores per node. If you want ddgrav to use the "+
			"maximum number of threads per node, set Threads = -1.",
			n, runtime.NumCPU())
	} else if n < 1 {
		return ddgerr.ConfigErrorf("%d threads requested.", n)
	}

	runtime.GOMAXPROCS(n)
	return nil
}

// Workers converts a Threads setting into a worker count.
func Workers(n int) int {
	if n < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// For calls f(i, worker) for every i in [0, n) using the given number of
// workers. Each worker handles one contiguous block of indices, so f may keep
// per-worker scratch space indexed by worker. For returns once every call
// has finished.
func For(n, workers int, f func(i, worker int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			f(i, 0)
		}
		return
	}

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		start, end := w*n/workers, (w+1)*n/workers
		go func(w, start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				f(i, w)
			}
		}(w, start, end)
	}
	wg.Wait()
}
