package requester

import (
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Flood is a set of workers firing the same request definition under one
// shutdown coordinator
type Flood struct {
	group errgroup.Group
	done  chan struct{}
}

// StartFlood spawns concurrency workers. pick is called once per worker to
// select the sender that worker keeps for its lifetime.
func StartFlood(request *Request, concurrency int, pick func() Sender, stats *Statistics, shutdown *Shutdown, logger zerolog.Logger) *Flood {
	f := &Flood{
		done: make(chan struct{}),
	}

	logger.Info().
		Str("method", request.Method).
		Str("target", request.Describe()).
		Int("concurrency", concurrency).
		Bool("random", request.Template != nil).
		Msg("Starting workers")

	for i := 0; i < concurrency; i++ {
		w := NewWorker(pick(), request, stats, shutdown)
		f.group.Go(w.Run)
	}

	go func() {
		_ = f.group.Wait()
		close(f.done)
	}()

	return f
}

// Done is closed once every worker of the flood has exited
func (f *Flood) Done() <-chan struct{} {
	return f.done
}
