package gravity

import (
	"context"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/thread"
	"github.com/phil-mansfield/ddgrav/lib/tree"
)

// Stats counts the work done by one call to Evaluate on one rank.
type Stats struct {
	// AcceptedNodes is the number of nodes used in place of their contents.
	AcceptedNodes int64
	// Interactions is the number of particle-particle pairs.
	Interactions int64
	// RemoteFetches is the number of remote nodes fetched.
	RemoteFetches int64
	// Rounds is the number of fetch rounds.
	Rounds int64
	// PerParticle is the number of nodes and particles each local particle
	// interacted with.
	PerParticle []int64
}

// Result holds the acceleration and potential of every local particle, in
// the order of the set passed to Evaluate.
type Result struct {
	Acc   []geom.Vec
	Pot   []float64
	Stats Stats
}

// Evaluate computes the acceleration and potential of every particle in set
// due to every particle on every rank. root must be the same cube on every
// rank and must contain every particle. Every rank must call Evaluate.
//
// If any fetch fails, Evaluate returns the error and no results.
func Evaluate(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	root geom.Box, cfg *config.TreeConfig, s Solver, workers int,
) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	t, err := tree.Build(set, root, cfg)
	if err != nil {
		return nil, err
	}

	n := set.Len()
	others := comm.OtherRanks(c)
	walkers := make([]walker, n)
	for i := range walkers {
		w := &walkers[i]
		w.i = int32(i)
		w.stack = make([]item, 0, 64)
		for _, r := range others {
			remote := tree.Key{Rank: r, Path: tree.Root()}
			w.stack = append(w.stack, item{tree.NoChild, remote})
		}
		w.stack = append(w.stack, item{0, tree.Key{}})
	}

	res := &Result{
		Acc: make([]geom.Vec, n), Pot: make([]float64, n),
		Stats: Stats{PerParticle: make([]int64, n)},
	}
	cache := tree.NewCache()
	for {
		if err := ctx.Err(); err != nil {
			return nil, ddgerr.Wrap(ddgerr.Transport, err, "tree walk")
		}

		thread.For(n, workers, func(i, _ int) {
			walkers[i].advance(t, cache, s, set.X[i])
		})

		blocked, requests := int64(0), map[int][]tree.Path{}
		missing := map[tree.Key]bool{}
		for i := range walkers {
			if len(walkers[i].waiting) > 0 {
				blocked++
			}
			for _, key := range walkers[i].waiting {
				if !missing[key] {
					missing[key] = true
					requests[key.Rank] = append(requests[key.Rank], key.Path)
				}
			}
		}

		total, err := comm.AllReduceInts(ctx, c, []int64{blocked}, comm.OpSum)
		if err != nil {
			return nil, err
		}
		if total[0] == 0 {
			break
		}
		if res.Stats.Rounds > tree.MaxDepth {
			return nil, ddgerr.InvariantErrorf("Tree walk still waiting on "+
				"%d walks after %d fetch rounds.", total[0], res.Stats.Rounds)
		}

		found, err := tree.FetchRemote(ctx, c, t, requests)
		if err != nil {
			return nil, err
		}
		cache.Add(found)
		res.Stats.RemoteFetches += int64(len(found))
		res.Stats.Rounds++

		for i := range walkers {
			walkers[i].resume()
		}
	}

	for i := range walkers {
		w := &walkers[i]
		res.Acc[i], res.Pot[i] = w.acc, w.pot
		res.Stats.AcceptedNodes += w.accepted
		res.Stats.Interactions += w.interactions
		res.Stats.PerParticle[i] = w.accepted + w.interactions
	}
	return res, nil
}

// item is a node on a walker's stack: a local arena index, or NoChild and a
// remote key.
type item struct {
	local int32
	key   tree.Key
}

type walker struct {
	i       int32
	stack   []item
	waiting []tree.Key

	acc                    geom.Vec
	pot                    float64
	accepted, interactions int64
}

// advance walks until every node left is a remote node missing from cache.
func (w *walker) advance(
	t *tree.Tree, cache *tree.Cache, s Solver, x geom.Vec,
) {
	for len(w.stack) > 0 {
		it := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		if it.local != tree.NoChild {
			w.visitLocal(t, s, x, it.local)
		} else if node := cache.Get(it.key); node != nil {
			w.visitRemote(node, it.key, s, x)
		} else {
			w.waiting = append(w.waiting, it.key)
		}
	}
}

// resume moves waiting nodes back onto the stack.
func (w *walker) resume() {
	for j := len(w.waiting) - 1; j >= 0; j-- {
		w.stack = append(w.stack, item{tree.NoChild, w.waiting[j]})
	}
	w.waiting = w.waiting[:0]
}

func (w *walker) add(acc geom.Vec, pot float64) {
	w.acc = w.acc.Add(acc)
	w.pot += pot
}

func (w *walker) visitLocal(t *tree.Tree, s Solver, x geom.Vec, ni int32) {
	nd := &t.Nodes[ni]
	switch {
	case nd.Count == 0:
	case s.Accept(x, nd.Box, nd.COM):
		w.add(s.Node(x, &nd.Moments))
		w.accepted++
	case nd.Leaf:
		for _, j := range t.Index[nd.Start:nd.End] {
			if j == w.i {
				continue
			}
			w.add(s.Pair(x, t.Position(j), t.Mass(j)))
			w.interactions++
		}
	default:
		for k := 7; k >= 0; k-- {
			if ci := nd.Child[k]; ci != tree.NoChild {
				w.stack = append(w.stack, item{ci, tree.Key{}})
			}
		}
	}
}

func (w *walker) visitRemote(
	node *tree.NodeSummary, key tree.Key, s Solver, x geom.Vec,
) {
	switch {
	case node.Count == 0:
	case s.Accept(x, node.Box, node.COM):
		w.add(s.Node(x, &node.Moments))
		w.accepted++
	case node.Leaf:
		for j := range node.X {
			w.add(s.Pair(x, node.X[j], node.Masses[j]))
			w.interactions++
		}
	default:
		for k := 7; k >= 0; k-- {
			if node.HasChild(k) {
				child := tree.Key{Rank: key.Rank, Path: key.Path.Child(k)}
				w.stack = append(w.stack, item{tree.NoChild, child})
			}
		}
	}
}
