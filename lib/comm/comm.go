/*package comm contains the Communicator abstraction every other part of ddgrav
uses to move data between ranks, its three backends, and Exchange, which moves
variable-length records between arbitrary pairs of ranks.

All backends give the same logical results for the same per-rank inputs:

  - the local backend runs every rank as a goroutine in one process and moves
    messages over channels. It is used by tests and by single-node runs.
  - the tcp backend connects one process per rank over a full mesh of TCP
    connections.
  - the mpi backend wraps an MPI library through cgo and is only compiled
    with the "mpi" build tag.

The local and tcp backends share the collective algorithms in collective.go,
which are written in terms of point-to-point messages. Collectives are
barriers: no rank returns from one until every rank has contributed. Any
failure during a collective is a Transport error and is fatal for the run.
*/
package comm

import (
	"context"
	"encoding/binary"
	"math"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Op is a reduction operator.
type Op int

const (
	OpSum Op = iota
	OpMax
	OpMin
)

func (op Op) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	}
	return "unknown"
}

// Communicator connects one rank to every other rank in a run.
type Communicator interface {
	// Rank returns the index of this rank.
	Rank() int
	// Size returns the number of ranks.
	Size() int

	// Send delivers payload to rank. Messages between a pair of ranks
	// arrive in the order they were sent. Send may return before the
	// message is received, and the caller may reuse payload afterwards.
	Send(ctx context.Context, rank int, payload []byte) error
	// Receive blocks until the next message from rank arrives.
	Receive(ctx context.Context, rank int) ([]byte, error)

	// AllGather returns every rank's payload, ordered by rank.
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)
	// AllReduce combines x element-wise across ranks. Every rank must pass
	// the same number of elements and gets a bit-identical result.
	AllReduce(ctx context.Context, x []float64, op Op) ([]float64, error)
	// Broadcast returns root's payload on every rank. Non-root payloads are
	// ignored.
	Broadcast(ctx context.Context, payload []byte, root int) ([]byte, error)

	// Close releases the communicator's resources. Every later call fails.
	Close() error
}

// AllToAller is implemented by backends with a native all-to-all
// operation. Exchange uses it when it's available.
type AllToAller interface {
	// AllToAll sends send[r] to rank r and returns recv, where recv[r] is
	// the buffer rank r sent to this rank.
	AllToAll(ctx context.Context, send [][]byte) ([][]byte, error)
}

// OtherRanks returns every rank except c's own, in increasing order.
func OtherRanks(c Communicator) []int {
	out := make([]int, 0, c.Size()-1)
	for r := 0; r < c.Size(); r++ {
		if r != c.Rank() {
			out = append(out, r)
		}
	}
	return out
}

// Barrier returns once every rank has called it.
func Barrier(ctx context.Context, c Communicator) error {
	_, err := c.AllGather(ctx, nil)
	return err
}

// AllReduceInts is AllReduce for integers. It is exact for any int64 values,
// unlike sending them through float64.
func AllReduceInts(
	ctx context.Context, c Communicator, x []int64, op Op,
) ([]int64, error) {
	buf := make([]byte, 8*len(x))
	for i := range x {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(x[i]))
	}
	parts, err := c.AllGather(ctx, buf)
	if err != nil {
		return nil, err
	}

	out := make([]int64, len(x))
	for r, part := range parts {
		if len(part) != len(buf) {
			return nil, ddgerr.TransportErrorf("Rank %d contributed %d bytes "+
				"to an integer reduction, expected %d.", r, len(part), len(buf))
		}
		for i := range out {
			v := int64(binary.LittleEndian.Uint64(part[8*i:]))
			if r == 0 {
				out[i] = v
				continue
			}
			switch op {
			case OpSum:
				out[i] += v
			case OpMax:
				if v > out[i] {
					out[i] = v
				}
			case OpMin:
				if v < out[i] {
					out[i] = v
				}
			}
		}
	}
	return out, nil
}

// checkRank returns a Configuration error if rank isn't in [0, size).
func checkRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return ddgerr.ConfigErrorf("Rank %d addressed in a run with %d ranks.",
			rank, size)
	}
	return nil
}

func checkOp(op Op) error {
	switch op {
	case OpSum, OpMax, OpMin:
		return nil
	}
	return ddgerr.ConfigErrorf("Unknown reduction operator %d.", int(op))
}

func encodeFloats(x []float64) []byte {
	buf := make([]byte, 8*len(x))
	for i := range x {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x[i]))
	}
	return buf
}

func decodeFloats(b []byte, x []float64) {
	for i := range x {
		x[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
}

// reduceFloats combines per-rank encoded arrays in rank order.
func reduceFloats(parts [][]byte, n int, op Op) ([]float64, error) {
	out, tmp := make([]float64, n), make([]float64, n)
	for r, part := range parts {
		if len(part) != 8*n {
			return nil, ddgerr.TransportErrorf("Rank %d contributed %d "+
				"values to a reduction, expected %d.", r, len(part)/8, n)
		}
		if r == 0 {
			decodeFloats(part, out)
			continue
		}
		decodeFloats(part, tmp)
		for i := range out {
			switch op {
			case OpSum:
				out[i] += tmp[i]
			case OpMax:
				out[i] = math.Max(out[i], tmp[i])
			case OpMin:
				out[i] = math.Min(out[i], tmp[i])
			}
		}
	}
	return out, nil
}
