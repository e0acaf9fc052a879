// Package merkle implements the append-only commitment tree with a bounded
// history of recent roots.
package merkle

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/types"
)

const (
	MaxLevels = 32

	// DefaultRootHistorySize is how many recent roots stay valid proof anchors.
	DefaultRootHistorySize = 100
)

// Tree is an incremental Merkle tree of fixed height. Only the rightmost
// filled subtree of every level is cached, so an insertion costs O(levels)
// hashes. Leaves are kept to serve inclusion paths.
type Tree struct {
	mu sync.RWMutex

	levels           int
	zeros            []fr.Element // zeros[i]: root of an empty subtree of height i
	filledSubtrees   []fr.Element
	roots            []fr.Element // ring buffer
	currentRootIndex int
	nextIndex        uint64
	leaves           []fr.Element
}

// Update is a prepared insertion. It is computed without touching the tree so
// it can be persisted first and applied afterwards.
type Update struct {
	StartIndex     uint64
	Leaves         []fr.Element
	FilledSubtrees []fr.Element
	RootIndex      int
	Root           fr.Element
}

// Zeros returns the empty subtree roots for heights 0..levels.
func Zeros(levels int) []fr.Element {
	zeros := make([]fr.Element, levels+1)
	zeros[0] = utils.ZeroValue
	for i := 1; i <= levels; i++ {
		zeros[i] = utils.Hash2(zeros[i-1], zeros[i-1])
	}
	return zeros
}

func New(levels, rootHistorySize int) (*Tree, error) {
	if levels < 1 || levels > MaxLevels {
		return nil, fmt.Errorf("levels must be in [1, %d], got %d", MaxLevels, levels)
	}
	if rootHistorySize < 1 {
		return nil, fmt.Errorf("root history size must be positive, got %d", rootHistorySize)
	}
	t := &Tree{
		levels:         levels,
		zeros:          Zeros(levels),
		filledSubtrees: make([]fr.Element, levels),
		roots:          make([]fr.Element, rootHistorySize),
	}
	copy(t.filledSubtrees, t.zeros[:levels])
	t.roots[0] = t.zeros[levels]
	return t, nil
}

func (t *Tree) Levels() int {
	return t.levels
}

func (t *Tree) RootHistorySize() int {
	return len(t.roots)
}

// Capacity is 2^levels.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << uint(t.levels)
}

func (t *Tree) NextIndex() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextIndex
}

func (t *Tree) CurrentRoot() fr.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots[t.currentRootIndex]
}

// IsKnownRoot reports whether root is one of the last RootHistorySize roots,
// the current one included. The zero value is never a known root.
func (t *Tree) IsKnownRoot(root fr.Element) bool {
	if root.IsZero() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := t.currentRootIndex
	for n := 0; n < len(t.roots); n++ {
		if t.roots[i].Equal(&root) {
			return true
		}
		if i == 0 {
			i = len(t.roots)
		}
		i--
	}
	return false
}

// Insert appends one commitment and returns its leaf index.
func (t *Tree) Insert(leaf fr.Element) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, err := t.prepare(leaf)
	if err != nil {
		return 0, err
	}
	t.apply(u)
	return u.StartIndex, nil
}

// InsertPair appends two commitments with a single root update.
func (t *Tree) InsertPair(left, right fr.Element) (uint64, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, err := t.prepare(left, right)
	if err != nil {
		return 0, 0, err
	}
	t.apply(u)
	return u.StartIndex, u.StartIndex + 1, nil
}

// PreparePair computes the insertion of a pair without applying it.
func (t *Tree) PreparePair(left, right fr.Element) (*Update, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prepare(left, right)
}

// Apply installs a prepared update. It fails if the tree moved since the
// update was prepared.
func (t *Tree) Apply(u *Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.StartIndex != t.nextIndex {
		return fmt.Errorf("update prepared at index %d, tree is at %d", u.StartIndex, t.nextIndex)
	}
	t.apply(u)
	return nil
}

func (t *Tree) prepare(leaves ...fr.Element) (*Update, error) {
	if t.nextIndex+uint64(len(leaves)) > t.Capacity() {
		return nil, fmt.Errorf("%w: next index %d, capacity %d", types.ErrTreeFull, t.nextIndex, t.Capacity())
	}

	filled := make([]fr.Element, t.levels)
	copy(filled, t.filledSubtrees)

	var root fr.Element
	if len(leaves) == 2 && t.nextIndex%2 == 0 {
		// both leaves share a parent; hash them once and climb from level 1
		filled[0] = leaves[0]
		root = climb(filled, t.zeros, 1, t.nextIndex/2, utils.Hash2(leaves[0], leaves[1]))
	} else {
		for i, leaf := range leaves {
			root = climb(filled, t.zeros, 0, t.nextIndex+uint64(i), leaf)
		}
	}

	return &Update{
		StartIndex:     t.nextIndex,
		Leaves:         append([]fr.Element(nil), leaves...),
		FilledSubtrees: filled,
		RootIndex:      (t.currentRootIndex + 1) % len(t.roots),
		Root:           root,
	}, nil
}

// climb hashes node at (level, index) up to the root, updating filled.
func climb(filled, zeros []fr.Element, level int, index uint64, node fr.Element) fr.Element {
	cur := node
	for i := level; i < len(filled); i++ {
		var left, right fr.Element
		if index%2 == 0 {
			left, right = cur, zeros[i]
			filled[i] = cur
		} else {
			left, right = filled[i], cur
		}
		cur = utils.Hash2(left, right)
		index /= 2
	}
	return cur
}

func (t *Tree) apply(u *Update) {
	t.filledSubtrees = u.FilledSubtrees
	t.roots[u.RootIndex] = u.Root
	t.currentRootIndex = u.RootIndex
	t.leaves = append(t.leaves, u.Leaves...)
	t.nextIndex += uint64(len(u.Leaves))
}

// Leaf returns the commitment stored at index.
func (t *Tree) Leaf(index uint64) (fr.Element, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= t.nextIndex {
		return fr.Element{}, fmt.Errorf("leaf %d not found, tree size %d", index, t.nextIndex)
	}
	return t.leaves[index], nil
}

// Leaves returns a copy of every inserted commitment in order.
func (t *Tree) Leaves() []fr.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]fr.Element(nil), t.leaves...)
}

// IndexOf finds the leaf index of a commitment.
func (t *Tree) IndexOf(commitment fr.Element) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.leaves {
		if t.leaves[i].Equal(&commitment) {
			return uint64(i), true
		}
	}
	return 0, false
}
