package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// StaleRequeuer returns abandoned running jobs to the queue.
type StaleRequeuer interface {
	RequeueStale(maxAge time.Duration) (int64, error)
}

// Pool runs several copies of a Worker against the shared queue.
type Pool struct {
	worker   *Worker
	size     int
	requeue  StaleRequeuer
	staleAge time.Duration
	logger   *slog.Logger
}

// NewPool creates a pool of size workers. When requeue is non-nil, jobs left
// running for longer than staleAge are put back on the queue at startup and
// every staleAge afterwards, and the worker refreshes the jobs it holds every
// third of staleAge.
func NewPool(w *Worker, size int, requeue StaleRequeuer, staleAge time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if staleAge <= 0 {
		staleAge = 10 * time.Minute
	}
	if requeue != nil {
		w.SetHeartbeat(staleAge / 3)
	}
	return &Pool{worker: w, size: size, requeue: requeue, staleAge: staleAge, logger: slog.Default()}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if p.requeue != nil {
		g.Go(func() error {
			p.requeueStale()
			t := time.NewTicker(p.staleAge)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					p.requeueStale()
				}
			}
		})
	}

	for i := range p.size {
		g.Go(func() error {
			p.logger.Debug("worker started", "worker", i)
			p.worker.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) requeueStale() {
	n, err := p.requeue.RequeueStale(p.staleAge)
	if err != nil {
		p.logger.Error("failed to requeue stale jobs", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("requeued stale jobs", "count", n)
	}
}
