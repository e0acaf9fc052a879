package merkle

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
)

// Path is the inclusion proof of one leaf. Siblings run from the leaf level
// up; bit i of Index is 1 when the node at level i is a right child.
type Path struct {
	Index    uint64
	Siblings []fr.Element
	Root     fr.Element
}

// ComputeRoot recomputes the root of a tree of the given height from the full
// leaf list, padding with the zero leaf.
func ComputeRoot(leaves []fr.Element, levels int) fr.Element {
	zeros := Zeros(levels)
	nodes := append([]fr.Element(nil), leaves...)
	for l := 0; l < levels; l++ {
		nodes = parents(nodes, zeros[l])
	}
	if len(nodes) == 0 {
		return zeros[levels]
	}
	return nodes[0]
}

func parents(nodes []fr.Element, zero fr.Element) []fr.Element {
	next := make([]fr.Element, (len(nodes)+1)/2)
	for i := range next {
		right := zero
		if 2*i+1 < len(nodes) {
			right = nodes[2*i+1]
		}
		next[i] = utils.Hash2(nodes[2*i], right)
	}
	return next
}

// Path builds the inclusion proof of the leaf at index against the current root.
func (t *Tree) Path(index uint64) (*Path, error) {
	paths, err := t.Paths(index)
	if err != nil {
		return nil, err
	}
	return paths[0], nil
}

// Paths builds several inclusion proofs against the same root.
func (t *Tree) Paths(indices ...uint64) ([]*Path, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	paths := make([]*Path, len(indices))
	for i, index := range indices {
		if index >= t.nextIndex {
			return nil, fmt.Errorf("leaf %d not found, tree size %d", index, t.nextIndex)
		}
		paths[i] = &Path{
			Index:    index,
			Siblings: make([]fr.Element, t.levels),
			Root:     t.roots[t.currentRootIndex],
		}
	}

	nodes := append([]fr.Element(nil), t.leaves...)
	for l := 0; l < t.levels; l++ {
		for _, p := range paths {
			sib := (p.Index >> uint(l)) ^ 1
			if sib < uint64(len(nodes)) {
				p.Siblings[l] = nodes[sib]
			} else {
				p.Siblings[l] = t.zeros[l]
			}
		}
		nodes = parents(nodes, t.zeros[l])
	}
	return paths, nil
}

// RootFrom folds leaf up the path.
func (p *Path) RootFrom(leaf fr.Element) fr.Element {
	cur := leaf
	for l, sib := range p.Siblings {
		if (p.Index>>uint(l))&1 == 0 {
			cur = utils.Hash2(cur, sib)
		} else {
			cur = utils.Hash2(sib, cur)
		}
	}
	return cur
}

func (p *Path) Verify(leaf fr.Element) bool {
	r := p.RootFrom(leaf)
	return r.Equal(&p.Root)
}
