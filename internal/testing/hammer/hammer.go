// Package hammer runs a test body concurrently, to exercise values shared across goroutines, such as an Engine and
// its Modules.
package hammer

import (
	"runtime"
	"sync"
	"testing"
)

// Hammer invokes a test concurrently in P goroutines N times per goroutine.
//
// Here's an example:
//
//	P := 8               // max count of goroutines
//	N := 1000            // work per goroutine
//	if testing.Short() { // Adjust down if `-test.short`
//		P = 4
//		N = 100
//	}
//
//	hammer.NewHammer(t, P, N).Run(func(p, n int) {
//		store := stitch.NewStore(engine) // stores are not goroutine-safe, so use one per goroutine
//		...
//	}, nil)
//
//	if t.Failed() {
//		return // At least one test failed, so return now.
//	}
type Hammer interface {
	// Run invokes test concurrently in P goroutines, each looping N times with the goroutine index p and the
	// iteration n. onRunning, if not nil, runs once all goroutines started, but before any invokes test.
	Run(test func(p, n int), onRunning func())
}

// NewHammer returns a Hammer initialized to indicated count of goroutines (P) and iterations per goroutine (N).
func NewHammer(t *testing.T, P, N int) Hammer {
	return &hammer{t: t, P: P, N: N}
}

type hammer struct {
	t    *testing.T
	P, N int
}

// Run implements Hammer.Run
func (h *hammer) Run(test func(p, n int), onRunning func()) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(h.P / 2)) // Ensure goroutines have to switch cores.

	running := make(chan int)
	var unblocked sync.WaitGroup
	finished := make(chan int)

	unblocked.Add(h.P)
	for p := 0; p < h.P; p++ {
		p := p
		go func() {
			defer func() { // Ensure each require.XX failure is visible on hammer test fail.
				if recovered := recover(); recovered != nil {
					h.t.Error(recovered)
				}
				finished <- 1
			}()
			running <- 1

			unblocked.Wait()
			for n := 0; n < h.N; n++ {
				test(p, n)
			}
		}()
	}

	for i := 0; i < h.P; i++ {
		<-running
	}
	if onRunning != nil {
		onRunning()
	}

	// Release all goroutines at the same time.
	unblocked.Add(-h.P)

	for i := 0; i < h.P; i++ {
		<-finished
	}
}
