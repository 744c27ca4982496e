package domain

import (
	"sync"

	"github.com/fd1az/swapengine/internal/apperror"
)

// DefaultMaxDepth bounds the acyclicity walk.
const DefaultMaxDepth = 32

// TargetIndex is the directed relation "swap A has a pending proposal
// targeting swap B". Adding an edge that closes a cycle is refused.
type TargetIndex struct {
	mu       sync.RWMutex
	edges    map[string]map[string]struct{}
	maxDepth int
}

// NewTargetIndex creates an empty index. Walks stop after maxDepth hops.
func NewTargetIndex(maxDepth int) *TargetIndex {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &TargetIndex{
		edges:    make(map[string]map[string]struct{}),
		maxDepth: maxDepth,
	}
}

// WouldCycle reports whether from -> to would close a cycle.
func (x *TargetIndex) WouldCycle(from, to string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.reaches(to, from)
}

// Add inserts from -> to, or fails with CIRCULAR_PROPOSAL.
func (x *TargetIndex) Add(from, to string) error {
	_, err := x.AddEdge(from, to)
	return err
}

// AddEdge is Add that also reports whether the edge was new. Only the caller
// that added an edge should remove it on rollback.
func (x *TargetIndex) AddEdge(from, to string) (bool, error) {
	if from == "" || to == "" {
		return false, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if from == to || x.reaches(to, from) {
		return false, apperror.New(apperror.CodeCircularProposal,
			apperror.WithDetail("source_swap_id", from),
			apperror.WithDetail("target_swap_id", to))
	}

	targets, ok := x.edges[from]
	if !ok {
		targets = make(map[string]struct{})
		x.edges[from] = targets
	}
	if _, exists := targets[to]; exists {
		return false, nil
	}
	targets[to] = struct{}{}
	return true, nil
}

// Remove deletes from -> to.
func (x *TargetIndex) Remove(from, to string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	targets, ok := x.edges[from]
	if !ok {
		return
	}
	delete(targets, to)
	if len(targets) == 0 {
		delete(x.edges, from)
	}
}

// Targets returns the swaps from currently targets.
func (x *TargetIndex) Targets(from string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]string, 0, len(x.edges[from]))
	for to := range x.edges[from] {
		out = append(out, to)
	}
	return out
}

// Len returns the number of edges.
func (x *TargetIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := 0
	for _, targets := range x.edges {
		n += len(targets)
	}
	return n
}

// reaches walks breadth-first from start looking for goal. Caller holds mu.
func (x *TargetIndex) reaches(start, goal string) bool {
	if start == goal {
		return true
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}

	for depth := 0; depth < x.maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for to := range x.edges[node] {
				if to == goal {
					return true
				}
				if _, seen := visited[to]; seen {
					continue
				}
				visited[to] = struct{}{}
				next = append(next, to)
			}
		}
		frontier = next
	}
	return false
}
