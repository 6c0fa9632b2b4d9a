package comm

/* collective.go contains the collective operations shared by the local and
tcp backends. They are built out of point-to-point messages sent on their own
tag, so they never consume messages sent with Communicator.Send. */

import (
	"context"
)

type tag uint8

const (
	tagUser tag = iota
	tagCollective
	tagExchange
	numTags
)

// transport is the point-to-point layer a backend has to provide to get the
// shared collectives.
type transport interface {
	Rank() int
	Size() int
	send(ctx context.Context, rank int, t tag, payload []byte) error
	recv(ctx context.Context, rank int, t tag) ([]byte, error)
}

// allGather sends payload to every other rank and then collects theirs.
// Channels between pairs of ranks are FIFO, so as long as all ranks issue
// collectives in the same order, messages from different collectives can't
// be confused.
func allGather(
	ctx context.Context, tr transport, payload []byte,
) ([][]byte, error) {
	rank, size := tr.Rank(), tr.Size()
	out := make([][]byte, size)
	out[rank] = append([]byte{}, payload...)

	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		if err := tr.send(ctx, r, tagCollective, payload); err != nil {
			return nil, err
		}
	}
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		b, err := tr.recv(ctx, r, tagCollective)
		if err != nil {
			return nil, err
		}
		out[r] = b
	}
	return out, nil
}

func allReduce(
	ctx context.Context, tr transport, x []float64, op Op,
) ([]float64, error) {
	if err := checkOp(op); err != nil {
		return nil, err
	}
	parts, err := allGather(ctx, tr, encodeFloats(x))
	if err != nil {
		return nil, err
	}
	return reduceFloats(parts, len(x), op)
}

// broadcast is an all-gather in which only root contributes data. That makes
// it a full barrier like the other collectives.
func broadcast(
	ctx context.Context, tr transport, payload []byte, root int,
) ([]byte, error) {
	if err := checkRank(root, tr.Size()); err != nil {
		return nil, err
	}
	var mine []byte
	if tr.Rank() == root {
		mine = payload
	}
	parts, err := allGather(ctx, tr, mine)
	if err != nil {
		return nil, err
	}
	return parts[root], nil
}
