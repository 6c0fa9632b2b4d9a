package comm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/rng"
)

// randomOutgoing builds a deterministic, irregular outgoing mapping for one
// rank. Rank 1 never sends anything.
func randomOutgoing(rank, size int) []Records {
	out := make([]Records, size)
	if rank == 1 {
		return out
	}
	gen := rng.NewRNG(uint64(rank) + 100)
	for dst := 0; dst < size; dst++ {
		n := int(gen.Uniform() * 5)
		for i := 0; i < n; i++ {
			rec := []byte(fmt.Sprintf("%d->%d #%d", rank, dst, i))
			if i == 2 {
				rec = []byte{}
			}
			out[dst] = append(out[dst], rec)
		}
	}
	return out
}

func exchangeMultiset(t *testing.T, size int) {
	var mu sync.Mutex
	sent, received := []string{}, []string{}

	err := RunLocal(context.Background(), size, func(ctx context.Context, c Communicator) error {
		out := randomOutgoing(c.Rank(), size)
		in, err := Exchange(ctx, c, out)
		if err != nil {
			return err
		}
		if len(in) != size {
			return fmt.Errorf("got records from %d ranks", len(in))
		}

		mu.Lock()
		defer mu.Unlock()
		for dst := range out {
			for _, rec := range out[dst] {
				sent = append(sent, fmt.Sprintf("%d:%s", dst, rec))
			}
		}
		for src := range in {
			for i, rec := range in[src] {
				want := fmt.Sprintf("%d->%d #%d", src, c.Rank(), i)
				if i == 2 {
					want = ""
				}
				if string(rec) != want {
					return fmt.Errorf("rank %d: record %d from %d is %q, "+
						"expected %q", c.Rank(), i, src, rec, want)
				}
				received = append(received, fmt.Sprintf("%d:%s", c.Rank(), rec))
			}
		}
		return nil
	})
	require.NoError(t, err)

	sort.Strings(sent)
	sort.Strings(received)
	assert.Equal(t, sent, received)
}

func TestExchangeMultiset(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 7} {
		exchangeMultiset(t, size)
	}
}

func TestExchangeNobodySends(t *testing.T) {
	err := RunLocal(context.Background(), 4, func(ctx context.Context, c Communicator) error {
		in, err := Exchange(ctx, c, make([]Records, c.Size()))
		if err != nil {
			return err
		}
		for r := range in {
			if len(in[r]) != 0 {
				return fmt.Errorf("got %d records from rank %d", len(in[r]), r)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestExchangeRepeated(t *testing.T) {
	// Back-to-back exchanges with different shapes mustn't mix.
	err := RunLocal(context.Background(), 3, func(ctx context.Context, c Communicator) error {
		for round := 0; round < 5; round++ {
			out := make([]Records, c.Size())
			dst := (c.Rank() + round) % c.Size()
			out[dst] = Records{[]byte{byte(round), byte(c.Rank())}}
			in, err := Exchange(ctx, c, out)
			if err != nil {
				return err
			}
			for src := range in {
				for _, rec := range in[src] {
					if rec[0] != byte(round) || rec[1] != byte(src) {
						return fmt.Errorf("round %d: bad record %v from %d",
							round, rec, src)
					}
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestExchangeWrongLength(t *testing.T) {
	w, _ := NewLocalWorld(2)
	c, _ := w.Comm(0)
	_, err := Exchange(context.Background(), c, make([]Records, 3))
	assert.True(t, ddgerr.Is(err, ddgerr.Configuration))
}

func TestPackRecords(t *testing.T) {
	rec := Records{[]byte("a"), {}, []byte("hello")}
	buf := packRecords(rec)
	assert.Equal(t, 4*3+6, len(buf))

	out, err := unpackRecords(buf, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, rec, out)

	_, err = unpackRecords(buf, 2, 0)
	assert.True(t, ddgerr.Is(err, ddgerr.Transport))
	_, err = unpackRecords(buf[:len(buf)-1], -1, 0)
	assert.True(t, ddgerr.Is(err, ddgerr.Transport))
}

// exchangeAfterSend has rank 0 leave a message in rank 1's user queue before
// an Exchange. Neither operation may see the other's data.
func exchangeAfterSend(ctx context.Context, c Communicator) error {
	user := []byte("sixteen bytes!!!")
	if c.Rank() == 0 {
		if err := c.Send(ctx, 1, user); err != nil {
			return err
		}
	}

	out := make([]Records, c.Size())
	if c.Rank() == 0 {
		out[1] = Records{[]byte("record")}
	}
	in, err := Exchange(ctx, c, out)
	if err != nil {
		return err
	}
	if c.Rank() != 1 {
		return nil
	}

	if len(in[0]) != 1 || string(in[0][0]) != "record" {
		return fmt.Errorf("rank 1 got %q from rank 0, expected one record",
			in[0])
	}
	b, err := c.Receive(ctx, 0)
	if err != nil {
		return err
	}
	if string(b) != string(user) {
		return fmt.Errorf("user message is %q, expected %q", b, user)
	}
	return nil
}

func TestExchangeLeavesUserMessages(t *testing.T) {
	require.NoError(t, RunLocal(context.Background(), 2, exchangeAfterSend))
	require.NoError(t, runTCP(t, 2, TCPOptions{}, exchangeAfterSend))
}

type bareComm struct{ Communicator }

func TestExchangeNeedsTags(t *testing.T) {
	w, _ := NewLocalWorld(2)
	c, _ := w.Comm(0)
	_, err := Exchange(context.Background(), bareComm{c}, make([]Records, 2))
	assert.True(t, ddgerr.Is(err, ddgerr.Configuration))
}
