package merkle

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Snapshot is the complete persisted state of a Tree.
type Snapshot struct {
	Levels           int
	FilledSubtrees   []fr.Element
	Roots            []fr.Element
	CurrentRootIndex int
	NextIndex        uint64
	Leaves           []fr.Element
}

func (t *Tree) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &Snapshot{
		Levels:           t.levels,
		FilledSubtrees:   append([]fr.Element(nil), t.filledSubtrees...),
		Roots:            append([]fr.Element(nil), t.roots...),
		CurrentRootIndex: t.currentRootIndex,
		NextIndex:        t.nextIndex,
		Leaves:           append([]fr.Element(nil), t.leaves...),
	}
}

// Restore rebuilds a tree from a snapshot and checks that the stored leaves
// hash to the stored current root.
func Restore(s *Snapshot) (*Tree, error) {
	t, err := New(s.Levels, len(s.Roots))
	if err != nil {
		return nil, err
	}
	if len(s.FilledSubtrees) != s.Levels {
		return nil, fmt.Errorf("snapshot has %d filled subtrees for %d levels", len(s.FilledSubtrees), s.Levels)
	}
	if s.CurrentRootIndex < 0 || s.CurrentRootIndex >= len(s.Roots) {
		return nil, fmt.Errorf("current root index %d out of range", s.CurrentRootIndex)
	}
	if uint64(len(s.Leaves)) != s.NextIndex || s.NextIndex > t.Capacity() {
		return nil, fmt.Errorf("snapshot has %d leaves, next index %d", len(s.Leaves), s.NextIndex)
	}

	root := ComputeRoot(s.Leaves, s.Levels)
	if !root.Equal(&s.Roots[s.CurrentRootIndex]) {
		return nil, fmt.Errorf("snapshot leaves do not hash to the current root")
	}

	copy(t.filledSubtrees, s.FilledSubtrees)
	copy(t.roots, s.Roots)
	t.currentRootIndex = s.CurrentRootIndex
	t.nextIndex = s.NextIndex
	t.leaves = append(t.leaves, s.Leaves...)
	return t, nil
}

// Clone returns an independent copy, used to stage commits.
func (t *Tree) Clone() *Tree {
	c, err := Restore(t.Snapshot())
	if err != nil {
		panic(err)
	}
	return c
}
