// Package resolver implements the asynchronous DNS resolver: a small
// bounded worker pool performs blocking host/port resolution off the
// event-loop thread, and delivers results back to the loop through a
// mutex+condvar FIFO plus a selector self-pipe wakeup — mirroring the
// teacher's concurrency shape (goroutines doing blocking work, results
// handed back through a channel) adapted to the C reference's resolver
// subsystem (src/resolver/resolver.c): a job queue feeding a completed
// queue that the event loop drains on its own thread.
package resolver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
)

// MinWorkers and MaxWorkers bound the resolver pool size per spec §4.E.
const (
	MinWorkers     = 1
	MaxWorkers     = 4
	DefaultWorkers = 2
)

// Status is the outcome of a resolve job.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
)

// Callback is invoked on the event-loop thread (never on a worker goroutine)
// once a job completes.
type Callback func(status Status, addrs []net.IPAddr, err error)

// job is a single pending or completed resolution request.
type job struct {
	host     string
	port     string
	callback Callback
	userData any

	status Status
	addrs  []net.IPAddr
	err    error
}

// Pool is a bounded pool of worker goroutines performing blocking name
// resolution. Workers never touch session state directly: they only
// populate a job's result fields and hand it to the completed queue,
// which the event loop drains and dispatches via Callback.
type Pool struct {
	resolver *net.Resolver

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*job
	done    []*job
	closed  bool

	wake func() // selector wakeup, called whenever a job completes

	wg sync.WaitGroup
}

// NewPool starts numWorkers workers. wake is called (possibly from a
// worker goroutine) every time a job finishes, so the caller should wire
// it to Selector.Wake.
func NewPool(numWorkers int, wake func()) *Pool {
	if numWorkers < MinWorkers {
		numWorkers = MinWorkers
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}

	p := &Pool{
		resolver: net.DefaultResolver,
		wake:     wake,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Request enqueues a resolution job. The callback fires later, on a call
// to DrainCompleted from the event-loop thread — never from this call
// and never from a worker goroutine.
func (p *Pool) Request(host, port string, userData any, cb Callback) {
	j := &job{host: host, port: port, callback: cb, userData: userData}

	p.mu.Lock()
	if p.closed {
		// No worker will ever pick this job up; complete it as failed
		// through the done queue so the callback still only ever fires
		// from DrainCompleted.
		j.status = StatusFailed
		j.err = fmt.Errorf("resolver: pool is shut down")
		p.done = append(p.done, j)
		p.mu.Unlock()
		if p.wake != nil {
			p.wake()
		}
		return
	}
	p.pending = append(p.pending, j)
	p.mu.Unlock()

	p.cond.Signal()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}

		j := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()

		addrs, err := p.resolver.LookupIPAddr(context.Background(), j.host)
		if err != nil {
			j.status = StatusFailed
			j.err = err
		} else {
			j.status = StatusSuccess
			j.addrs = addrs
		}

		p.mu.Lock()
		p.done = append(p.done, j)
		p.mu.Unlock()

		if p.wake != nil {
			p.wake()
		}
	}
}

// DrainCompleted pops every completed job and invokes its callback on
// the calling (event-loop) goroutine. cmd/socks5d's runLoop calls it
// after every Selector.Wait; the wakeup only ends that Wait early.
func (p *Pool) DrainCompleted() {
	p.mu.Lock()
	completed := p.done
	p.done = nil
	p.mu.Unlock()

	for _, j := range completed {
		j.callback(j.status, j.addrs, j.err)
	}
}

// Shutdown sets the shared close flag, wakes every worker so they drain
// and exit, and waits for them to finish. Workers resolve every job
// still pending before they exit; those results wait in the completed
// queue, and Shutdown itself invokes no callback (they run only if
// DrainCompleted is called afterwards).
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	log.Print("[resolver] pool shut down")
}
