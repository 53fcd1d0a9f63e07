// Package pipeline runs the threaded form of the coupling engine: one
// producer goroutine per forcing distributor writing into its own
// timestamp-keyed queues, the scheduler consuming them in timestamp order,
// and a cleaner evicting timestamps the consumer has acknowledged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ConsumeFunc drives the scheduler against the queued forcing.
type ConsumeFunc func(ctx context.Context, src forcing.Source) error

// Supervisor owns the producer, consumer and cleaner lifecycles.
type Supervisor struct {
	stages []forcing.Distributor
	opts   queue.Options
	logger *zap.SugaredLogger
}

// NewSupervisor validates that every stage input is produced by a stage.
func NewSupervisor(stages []forcing.Distributor, opts queue.Options, logger *zap.SugaredLogger) (*Supervisor, error) {
	ordered, err := forcing.Order(stages)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return &Supervisor{stages: ordered, opts: opts, logger: logger}, nil
}

// Run produces forcing for every date and calls consume with a Source
// backed by the queues. It returns once every goroutine has exited. On
// the first error, or when ctx is cancelled, every queue is closed so
// no goroutine stays blocked.
func (s *Supervisor) Run(ctx context.Context, dates []time.Time, consume ConsumeFunc) error {
	queues := make(map[string]*queue.Queue[*mat.Dense])
	var names []string
	for _, st := range s.stages {
		for _, out := range st.Outputs() {
			queues[out] = queue.New[*mat.Dense](s.opts)
			names = append(names, out)
		}
	}

	var closeOnce sync.Once
	closeAll := func() {
		closeOnce.Do(func() {
			for _, q := range queues {
				q.Close()
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			closeAll()
		case <-stop:
		}
	}()

	for _, st := range s.stages {
		st := st
		g.Go(func() error {
			return s.produce(gctx, st, dates, queues)
		})
	}

	acks := make(chan time.Time, len(dates))
	g.Go(func() error {
		for t := range acks {
			for _, q := range queues {
				q.Evict(t)
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(acks)
		src := &queueSource{queues: queues, names: names, acks: acks}
		return consume(gctx, src)
	})

	err := g.Wait()
	close(stop)
	closeAll()
	return err
}

func (s *Supervisor) produce(ctx context.Context, st forcing.Distributor, dates []time.Time, queues map[string]*queue.Queue[*mat.Dense]) error {
	for _, t := range dates {
		in := make(forcing.Record, len(st.Inputs()))
		for _, name := range st.Inputs() {
			g, err := queues[name].Get(ctx, t, true, 0)
			if err != nil {
				return s.producerErr(ctx, st, t, err)
			}
			if g != nil {
				in[name] = g
			}
		}

		out, err := st.Distribute(ctx, t, in)
		if err != nil {
			return fmt.Errorf("producer %s at %s: %w", st.Name(), t.Format(time.RFC3339), err)
		}

		// Every output is published, nil when the stage had nothing, so the
		// consumer never waits on a timestamp that will not arrive.
		for _, name := range st.Outputs() {
			if err := queues[name].Put(ctx, t, out[name]); err != nil {
				return s.producerErr(ctx, st, t, err)
			}
		}
	}
	s.logger.Debugf("producer %s finished %d timestamps", st.Name(), len(dates))
	return nil
}

// producerErr reports a queue failure, treating a close caused by
// shutdown as a clean exit.
func (s *Supervisor) producerErr(ctx context.Context, st forcing.Distributor, t time.Time, err error) error {
	if errors.Is(err, queue.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("producer %s at %s: %w", st.Name(), t.Format(time.RFC3339), err)
}

// queueSource is the consumer's view of the queues. Get blocks on each
// variable in turn, then acknowledges t to the cleaner.
type queueSource struct {
	queues map[string]*queue.Queue[*mat.Dense]
	names  []string
	acks   chan<- time.Time
}

func (qs *queueSource) Get(ctx context.Context, t time.Time) (forcing.Record, error) {
	rec := make(forcing.Record, len(qs.names))
	for _, name := range qs.names {
		g, err := qs.queues[name].Get(ctx, t, true, 0)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s at %s: %w", name, t.Format(time.RFC3339), err)
		}
		if g != nil {
			rec[name] = g
		}
	}
	qs.acks <- t
	return rec, nil
}
