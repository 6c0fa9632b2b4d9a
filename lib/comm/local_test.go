package comm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// collectiveChecks runs the same checks against any backend. It's called once
// per rank.
func collectiveChecks(ctx context.Context, c Communicator) error {
	rank, size := c.Rank(), c.Size()

	parts, err := c.AllGather(ctx, []byte(fmt.Sprintf("rank-%d", rank)))
	if err != nil {
		return err
	}
	if len(parts) != size {
		return fmt.Errorf("AllGather returned %d parts, expected %d", len(parts), size)
	}
	for r := range parts {
		if want := fmt.Sprintf("rank-%d", r); string(parts[r]) != want {
			return fmt.Errorf("parts[%d] = %q, expected %q", r, parts[r], want)
		}
	}

	x := []float64{float64(rank), 1, -float64(rank)}
	sum, err := c.AllReduce(ctx, x, OpSum)
	if err != nil {
		return err
	}
	max, err := c.AllReduce(ctx, x, OpMax)
	if err != nil {
		return err
	}
	min, err := c.AllReduce(ctx, x, OpMin)
	if err != nil {
		return err
	}
	n := float64(size)
	if sum[0] != n*(n-1)/2 || sum[1] != n || max[0] != n-1 ||
		min[2] != -(n-1) || max[2] != 0 || min[0] != 0 {
		return fmt.Errorf("bad reductions: sum = %v, max = %v, min = %v",
			sum, max, min)
	}

	ints, err := AllReduceInts(ctx, c, []int64{1 << 40, int64(rank)}, OpSum)
	if err != nil {
		return err
	}
	if ints[0] != int64(size)<<40 || ints[1] != int64(size*(size-1)/2) {
		return fmt.Errorf("bad integer reduction %v", ints)
	}

	root := size - 1
	var payload []byte
	if rank == root {
		payload = []byte("from the root")
	}
	got, err := c.Broadcast(ctx, payload, root)
	if err != nil {
		return err
	}
	if string(got) != "from the root" {
		return fmt.Errorf("Broadcast gave %q", got)
	}

	return Barrier(ctx, c)
}

func TestLocalCollectives(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5, 16} {
		err := RunLocal(context.Background(), size, collectiveChecks)
		if err != nil {
			t.Errorf("size = %d: %v", size, err)
		}
	}
}

func TestLocalPointToPoint(t *testing.T) {
	err := RunLocal(context.Background(), 3, func(ctx context.Context, c Communicator) error {
		next := (c.Rank() + 1) % c.Size()
		prev := (c.Rank() + c.Size() - 1) % c.Size()
		for i := 0; i < 10; i++ {
			msg := []byte{byte(c.Rank()), byte(i)}
			if err := c.Send(ctx, next, msg); err != nil {
				return err
			}
		}
		// A collective in between must not consume user messages.
		if err := Barrier(ctx, c); err != nil {
			return err
		}
		for i := 0; i < 10; i++ {
			msg, err := c.Receive(ctx, prev)
			if err != nil {
				return err
			}
			if msg[0] != byte(prev) || msg[1] != byte(i) {
				return fmt.Errorf("rank %d got %v, expected [%d %d]",
					c.Rank(), msg, prev, i)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestLocalSendCopies(t *testing.T) {
	err := RunLocal(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 0 {
			buf := []byte{1, 2, 3}
			if err := c.Send(ctx, 1, buf); err != nil {
				return err
			}
			buf[0] = 100
			return nil
		}
		msg, err := c.Receive(ctx, 0)
		if err != nil {
			return err
		}
		if msg[0] != 1 {
			return fmt.Errorf("payload was not copied: %v", msg)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestLocalAbort(t *testing.T) {
	start := time.Now()
	err := RunLocal(context.Background(), 4, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 2 {
			return ddgerr.InvariantErrorf("rank 2 failed")
		}
		// Blocks until rank 2's failure tears the world down.
		_, err := c.AllGather(ctx, []byte{1})
		return err
	})
	require.Error(t, err)
	assert.True(t, time.Since(start) < 10*time.Second)
}

func TestLocalBadRank(t *testing.T) {
	_, err := NewLocalWorld(0)
	assert.True(t, ddgerr.Is(err, ddgerr.Configuration))

	w, err := NewLocalWorld(2)
	require.NoError(t, err)
	c, err := w.Comm(0)
	require.NoError(t, err)
	assert.True(t, ddgerr.Is(c.Send(context.Background(), 2, nil), ddgerr.Configuration))
	_, err = c.Broadcast(context.Background(), nil, -1)
	assert.True(t, ddgerr.Is(err, ddgerr.Configuration))

	require.NoError(t, c.Close())
	assert.True(t, ddgerr.Is(c.Send(context.Background(), 1, nil), ddgerr.Transport))
}

func TestLocalCancel(t *testing.T) {
	w, err := NewLocalWorld(2)
	require.NoError(t, err)
	c, _ := w.Comm(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Receive(ctx, 1)
	require.Error(t, err)
	assert.True(t, ddgerr.Is(err, ddgerr.Transport))
}

func TestLocalOversubscribed(t *testing.T) {
	// Many more ranks than cores still completes.
	var mu sync.Mutex
	seen := map[int]bool{}
	err := RunLocal(context.Background(), 64, func(ctx context.Context, c Communicator) error {
		sum, err := c.AllReduce(ctx, []float64{1}, OpSum)
		if err != nil {
			return err
		}
		if sum[0] != 64 {
			return fmt.Errorf("sum = %g", sum[0])
		}
		mu.Lock()
		seen[c.Rank()] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 64)
}
