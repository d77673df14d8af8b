// Package lookup implements the iterative node lookup: starting from a
// seed set of peers, repeatedly query the alpha closest not-yet-queried
// candidates in parallel, fold their answers into a shortlist, and stop
// once a round fails to surface anyone closer than what's already known.
package lookup

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/metrics"
	"github.com/kadcore/dht/wire"
)

// FindNoder is the one operation lookup needs from the I/O layer. Defining
// it locally (rather than depending on package service or kadnode
// directly) keeps the dependency graph acyclic: kadnode depends on lookup,
// not the other way around.
type FindNoder interface {
	FindNode(peer wire.Peer, target id.ID) ([]wire.Peer, error)
}

// Config bounds the lookup's concurrency and round count.
type Config struct {
	Alpha    int // max concurrent outstanding FIND_NODE RPCs
	K        int // shortlist width / result size
	MaxRounds int // safety valve against pathological non-convergence
}

// DefaultConfig matches the production values named in spec §6.
func DefaultConfig() Config {
	return Config{Alpha: 3, K: 20, MaxRounds: 64}
}

type candidate struct {
	peer    wire.Peer
	queried bool
}

// Run performs an iterative lookup for target, starting from seed, and
// returns up to cfg.K peers ordered by ascending distance to target. local
// is excluded from the result (a node never returns itself).
func Run(local, target id.ID, seed []wire.Peer, finder FindNoder, cfg Config) []wire.Peer {
	shortlist := map[id.ID]*candidate{}
	addCandidates(shortlist, local, seed)

	sem := semaphore.NewWeighted(int64(cfg.Alpha))
	ctx := context.Background()

	closestDistance := func() []id.ID {
		ids := sortedIDs(shortlist, target)
		if len(ids) > cfg.K {
			ids = ids[:cfg.K]
		}
		return ids
	}

	prevClosest := closestDistance()
	for round := 0; round < cfg.MaxRounds; round++ {
		toQuery := pickUnqueried(shortlist, target, cfg.Alpha)
		if len(toQuery) == 0 {
			break
		}
		metrics.LookupRounds.Mark(1)

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, c := range toQuery {
			c.queried = true
			wg.Add(1)
			go func(c *candidate) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)

				peers, err := finder.FindNode(c.peer, target)
				if err != nil {
					return
				}
				mu.Lock()
				addCandidates(shortlist, local, peers)
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		closest := closestDistance()
		if sameIDs(closest, prevClosest) {
			break
		}
		prevClosest = closest
	}

	return collect(shortlist, target, cfg.K)
}

func addCandidates(shortlist map[id.ID]*candidate, local id.ID, peers []wire.Peer) {
	for _, p := range peers {
		if p.ID == local {
			continue
		}
		if _, ok := shortlist[p.ID]; ok {
			continue
		}
		shortlist[p.ID] = &candidate{peer: p}
	}
}

func sortedIDs(shortlist map[id.ID]*candidate, target id.ID) []id.ID {
	ids := make([]id.ID, 0, len(shortlist))
	for k := range shortlist {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return id.Less(target, ids[i], ids[j]) })
	return ids
}

func sameIDs(a, b []id.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pickUnqueried returns the up-to-alpha not-yet-queried candidates closest
// to target in the shortlist.
func pickUnqueried(shortlist map[id.ID]*candidate, target id.ID, alpha int) []*candidate {
	ids := sortedIDs(shortlist, target)
	var picked []*candidate
	for _, i := range ids {
		c := shortlist[i]
		if c.queried {
			continue
		}
		picked = append(picked, c)
		if len(picked) == alpha {
			break
		}
	}
	return picked
}

func collect(shortlist map[id.ID]*candidate, target id.ID, k int) []wire.Peer {
	ids := sortedIDs(shortlist, target)
	if len(ids) > k {
		ids = ids[:k]
	}
	out := make([]wire.Peer, 0, len(ids))
	for _, i := range ids {
		out = append(out, shortlist[i].peer)
	}
	return out
}
