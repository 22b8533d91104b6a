// Package exec provides the named executor pools and the global
// compilation-permit gate described in spec.md §5 and §9
// ("single-writer-per-scope... global compilation-permit semaphore").
// Grounded on the teacher's background-goroutine dispatch in
// langserver/handler.go (notifications run on their own goroutine, ordered
// requests run inline) generalized into three purpose-named pools instead
// of one implicit one, plus a semaphore bounding concurrent compiles
// regardless of how many scopes want to compile at once.
package exec

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/saibing/groovyls/internal/logging"
)

// Pools holds the three named goroutine pools spec.md's components are
// submitted to: import resolution, scheduling/debounce timers, and
// background compilation. Each pool is just a bounded-concurrency runner;
// giving them separate names keeps a slow importer subprocess from
// starving compile scheduling, and vice versa.
type Pools struct {
	Import     *Pool
	Scheduling *Pool
	Compile    *Pool

	// Permits gates how many compiles may run concurrently across every
	// scope, independent of the Compile pool's own goroutine limit
	// (spec.md §5: compiling is memory- and CPU-heavy enough that the
	// server caps total concurrency, not just per-pool concurrency).
	Permits *semaphore.Weighted
}

// NewPools builds the standard pool set. maxParallelism bounds each named
// pool's goroutine count; compilationPermits bounds concurrent Compile
// calls across all pools (it is typically <= maxParallelism).
func NewPools(maxParallelism int, compilationPermits int64) *Pools {
	if maxParallelism <= 0 {
		maxParallelism = 4
	}
	if compilationPermits <= 0 {
		compilationPermits = 1
	}
	return &Pools{
		Import:     newPool("import", maxParallelism),
		Scheduling: newPool("scheduling", maxParallelism),
		Compile:    newPool("compile", maxParallelism),
		Permits:    semaphore.NewWeighted(compilationPermits),
	}
}

// AcquirePermit blocks until a compilation permit is available or ctx is
// done. Callers must call the returned release func exactly once.
func (p *Pools) AcquirePermit(ctx context.Context) (release func(), err error) {
	if err := p.Permits.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.Permits.Release(1) }, nil
}

// Task is a unit of work submitted to a Pool. project is captured at
// submission time so the pool's logger can tag every log line with the
// project that triggered the work, even though many scopes share one pool
// (spec.md §9: "per-task project-context capture for logging").
type Task func(ctx context.Context)

// Pool is a bounded-concurrency goroutine runner with a name used for
// logging.
type Pool struct {
	name string
	sem  chan struct{}
	wg   sync.WaitGroup
}

func newPool(name string, n int) *Pool {
	return &Pool{name: name, sem: make(chan struct{}, n)}
}

// Submit runs fn on a pool goroutine once a slot is free, tagging the
// pool's logger with project for the duration of the call.
func (p *Pool) Submit(ctx context.Context, project string, fn Task) {
	p.wg.Add(1)
	p.sem <- struct{}{}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				logging.ForProject(project).Error("panic in "+p.name+" pool task", "recover", r)
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until every task submitted so far has finished. The server's
// shutdown path does not call it.
func (p *Pool) Wait() { p.wg.Wait() }
