package headersync

import (
	"fmt"
	"sort"
)

// CheckpointSet is an immutable, ascending-sorted list of checkpoints.
// Construction rejects duplicate heights and contradictory entries
// (same height, different hash) as a configuration error.
type CheckpointSet struct {
	ordered []Checkpoint
}

// NewCheckpointSet sorts the input ascending by height and validates it.
// Input order is not assumed to be sorted (matching the source's own
// "sort is required here but not in configuration settings" comment).
func NewCheckpointSet(checkpoints []Checkpoint) (*CheckpointSet, error) {
	ordered := make([]Checkpoint, len(checkpoints))
	copy(ordered, checkpoints)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Height < ordered[j].Height })

	seen := make(map[uint64]Checkpoint, len(ordered))
	for _, cp := range ordered {
		if prior, ok := seen[cp.Height]; ok {
			if prior.Hash == cp.Hash {
				return nil, fmt.Errorf("headersync: duplicate checkpoint at height %d", cp.Height)
			}
			return nil, fmt.Errorf("headersync: contradictory checkpoints at height %d", cp.Height)
		}
		seen[cp.Height] = cp
	}

	return &CheckpointSet{ordered: ordered}, nil
}

// Empty reports whether no checkpoints are configured.
func (s *CheckpointSet) Empty() bool {
	return s == nil || len(s.ordered) == 0
}

// Highest returns the checkpoint with the greatest height, and whether one exists.
func (s *CheckpointSet) Highest() (Checkpoint, bool) {
	if s.Empty() {
		return Checkpoint{}, false
	}
	return s.ordered[len(s.ordered)-1], true
}

// Contains returns the configured hash for a height, if any checkpoint names it.
func (s *CheckpointSet) Contains(height uint64) (Checkpoint, bool) {
	if s.Empty() {
		return Checkpoint{}, false
	}
	i := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].Height >= height })
	if i < len(s.ordered) && s.ordered[i].Height == height {
		return s.ordered[i], true
	}
	return Checkpoint{}, false
}

// Range returns, in ascending order, every checkpoint with height in [lo, hi].
func (s *CheckpointSet) Range(lo, hi uint64) []Checkpoint {
	if s.Empty() || lo > hi {
		return nil
	}
	start := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].Height >= lo })
	var out []Checkpoint
	for i := start; i < len(s.ordered) && s.ordered[i].Height <= hi; i++ {
		out = append(out, s.ordered[i])
	}
	return out
}
