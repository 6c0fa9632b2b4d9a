package tree

import (
	"context"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Each reply starts with one of these.
const (
	replyOK byte = iota
	replyFailed
)

// FetchRemote asks each rank r for the summaries of the nodes at
// requests[r] and answers the requests other ranks address to t. It makes
// one request round and one reply round through comm.Exchange, so every rank
// must call it, including ranks with nothing to ask for.
//
// A request for a node t doesn't have is an Invariant error on both sides:
// the answering rank still finishes the reply round, sends the failure back
// to the asker, and then returns the error itself.
func FetchRemote(
	ctx context.Context, c comm.Communicator, t *Tree,
	requests map[int][]Path,
) (map[Key]NodeSummary, error) {
	size := c.Size()
	out := make([]comm.Records, size)
	for r, paths := range requests {
		if r < 0 || r >= size {
			return nil, ddgerr.ConfigErrorf("Node requested from rank %d, "+
				"but the run has %d ranks.", r, size)
		}
		for _, p := range paths {
			out[r] = append(out[r], p.encode(nil))
		}
	}

	in, err := comm.Exchange(ctx, c, out)
	if err != nil {
		return nil, err
	}

	var answerErr error
	replies := make([]comm.Records, size)
	for src := range in {
		for _, rec := range in[src] {
			if len(rec) != pathSize {
				return nil, ddgerr.TransportErrorf("Node request from rank "+
					"%d is %d bytes instead of %d.", src, len(rec), pathSize)
			}
			s, err := t.Summary(decodePath(rec))
			if err != nil {
				if answerErr == nil {
					answerErr = ddgerr.Wrapf(ddgerr.Invariant, err,
						"answering rank %d", src)
				}
				reply := append([]byte{replyFailed}, err.Error()...)
				replies[src] = append(replies[src], reply)
				continue
			}
			replies[src] = append(replies[src], s.encode([]byte{replyOK}))
		}
	}

	answers, err := comm.Exchange(ctx, c, replies)
	if err != nil {
		return nil, err
	}
	if answerErr != nil {
		return nil, answerErr
	}

	found := map[Key]NodeSummary{}
	for src := range answers {
		if len(answers[src]) != len(out[src]) {
			return nil, ddgerr.TransportErrorf("Asked rank %d for %d nodes, "+
				"but got %d back.", src, len(out[src]), len(answers[src]))
		}
		for _, rec := range answers[src] {
			if len(rec) == 0 {
				return nil, ddgerr.TransportErrorf("Empty node reply from "+
					"rank %d.", src)
			}
			switch rec[0] {
			case replyOK:
			case replyFailed:
				return nil, ddgerr.InvariantErrorf("Rank %d couldn't "+
					"answer a node request: %s", src, rec[1:])
			default:
				return nil, ddgerr.TransportErrorf("Node reply from rank "+
					"%d has status %d.", src, rec[0])
			}

			s, err := decodeSummary(rec[1:], t.Root)
			if err != nil {
				return nil, err
			}
			found[Key{src, s.Path}] = s
		}
	}
	return found, nil
}

// Cache holds the remote nodes fetched during one force pass. A new Cache
// is made for every pass. Cache is not safe for concurrent writes, but any
// number of goroutines may call Get while nothing calls Add.
type Cache struct {
	nodes map[Key]*NodeSummary
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{map[Key]*NodeSummary{}}
}

// Get returns the cached summary for key, or nil.
func (c *Cache) Get(key Key) *NodeSummary { return c.nodes[key] }

// Add stores fetched summaries.
func (c *Cache) Add(found map[Key]NodeSummary) {
	for key := range found {
		s := found[key]
		c.nodes[key] = &s
	}
}

// Len returns the number of cached nodes.
func (c *Cache) Len() int { return len(c.nodes) }
