package comm

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// localBuffer is the number of messages that can be in flight between one
// ordered pair of ranks before Send blocks.
const localBuffer = 256

// LocalWorld is a set of ranks living in a single process. Each ordered pair
// of ranks has its own buffered channel per tag.
type LocalWorld struct {
	size  int
	chans [numTags][][]chan []byte

	done      chan struct{}
	abortOnce sync.Once
	abortErr  error
}

// NewLocalWorld creates a world with size ranks.
func NewLocalWorld(size int) (*LocalWorld, error) {
	if size < 1 {
		return nil, ddgerr.ConfigErrorf("A run needs at least one rank, "+
			"but %d were requested.", size)
	}

	w := &LocalWorld{size: size, done: make(chan struct{})}
	for t := range w.chans {
		w.chans[t] = make([][]chan []byte, size)
		for src := 0; src < size; src++ {
			w.chans[t][src] = make([]chan []byte, size)
			for dst := 0; dst < size; dst++ {
				w.chans[t][src][dst] = make(chan []byte, localBuffer)
			}
		}
	}
	return w, nil
}

// Size returns the number of ranks in the world.
func (w *LocalWorld) Size() int { return w.size }

// Comm returns the communicator for one rank of the world.
func (w *LocalWorld) Comm(rank int) (Communicator, error) {
	if err := checkRank(rank, w.size); err != nil {
		return nil, err
	}
	return &localComm{w: w, rank: rank}, nil
}

// Abort wakes up every rank blocked on the world and makes all later
// operations fail. Only the first call has an effect.
func (w *LocalWorld) Abort(err error) {
	w.abortOnce.Do(func() {
		w.abortErr = err
		close(w.done)
	})
}

func (w *LocalWorld) abortError() error {
	return ddgerr.TransportErrorf("Local world aborted: %v", w.abortErr)
}

// RunLocal creates a world with size ranks and calls f once per rank, each on
// its own goroutine. If any rank returns an error, every other rank's context
// is cancelled and the world is aborted, so ranks blocked on a collective
// fail instead of waiting forever. RunLocal returns the first error.
func RunLocal(
	ctx context.Context, size int,
	f func(ctx context.Context, c Communicator) error,
) error {
	w, err := NewLocalWorld(size)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			c, err := w.Comm(rank)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := f(gctx, c); err != nil {
				w.Abort(err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

type localComm struct {
	w      *LocalWorld
	rank   int
	closed int32
}

var _ Communicator = &localComm{}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.w.size }

func (c *localComm) check(rank int) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ddgerr.TransportErrorf("Rank %d used after Close.", c.rank)
	}
	return checkRank(rank, c.w.size)
}

func (c *localComm) send(
	ctx context.Context, rank int, t tag, payload []byte,
) error {
	if err := c.check(rank); err != nil {
		return err
	}
	buf := append([]byte{}, payload...)

	select {
	case c.w.chans[t][c.rank][rank] <- buf:
		return nil
	case <-ctx.Done():
		return ddgerr.Wrapf(ddgerr.Transport, ctx.Err(),
			"rank %d sending to rank %d", c.rank, rank)
	case <-c.w.done:
		return c.w.abortError()
	}
}

func (c *localComm) recv(ctx context.Context, rank int, t tag) ([]byte, error) {
	if err := c.check(rank); err != nil {
		return nil, err
	}

	select {
	case buf := <-c.w.chans[t][rank][c.rank]:
		return buf, nil
	case <-ctx.Done():
		return nil, ddgerr.Wrapf(ddgerr.Transport, ctx.Err(),
			"rank %d receiving from rank %d", c.rank, rank)
	case <-c.w.done:
		return nil, c.w.abortError()
	}
}

func (c *localComm) Send(ctx context.Context, rank int, payload []byte) error {
	return c.send(ctx, rank, tagUser, payload)
}

func (c *localComm) Receive(ctx context.Context, rank int) ([]byte, error) {
	return c.recv(ctx, rank, tagUser)
}

func (c *localComm) AllGather(
	ctx context.Context, payload []byte,
) ([][]byte, error) {
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return allGather(ctx, c, payload)
}

func (c *localComm) AllReduce(
	ctx context.Context, x []float64, op Op,
) ([]float64, error) {
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return allReduce(ctx, c, x, op)
}

func (c *localComm) Broadcast(
	ctx context.Context, payload []byte, root int,
) ([]byte, error) {
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return broadcast(ctx, c, payload, root)
}

func (c *localComm) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}
