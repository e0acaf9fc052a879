// Package nullifier keeps the append-only record of spent notes.
package nullifier

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Set holds every nullifier ever revealed. There is no removal.
type Set struct {
	mu    sync.RWMutex
	spent map[fr.Element]struct{}
	order []fr.Element
}

func NewSet() *Set {
	return &Set{spent: make(map[fr.Element]struct{})}
}

// FromList rebuilds a set from nullifiers in insertion order.
func FromList(nfs []fr.Element) (*Set, error) {
	s := NewSet()
	for _, nf := range nfs {
		if err := s.MarkSpent(nf); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) IsSpent(nf fr.Element) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.spent[nf]
	return ok
}

// MarkSpent inserts nf, failing with ErrAlreadySpent if it is present.
func (s *Set) MarkSpent(nf fr.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markSpent(nf)
}

// MarkAllSpent inserts every nullifier or none of them.
func (s *Set) MarkAllSpent(nfs []fr.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[fr.Element]struct{}, len(nfs))
	for _, nf := range nfs {
		if _, ok := s.spent[nf]; ok {
			return fmt.Errorf("%w: %x", types.ErrAlreadySpent, nf.Bytes())
		}
		if _, ok := seen[nf]; ok {
			return fmt.Errorf("%w: %x repeated", types.ErrAlreadySpent, nf.Bytes())
		}
		seen[nf] = struct{}{}
	}
	for _, nf := range nfs {
		_ = s.markSpent(nf)
	}
	return nil
}

func (s *Set) markSpent(nf fr.Element) error {
	if _, ok := s.spent[nf]; ok {
		return fmt.Errorf("%w: %x", types.ErrAlreadySpent, nf.Bytes())
	}
	s.spent[nf] = struct{}{}
	s.order = append(s.order, nf)
	return nil
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns the nullifiers in the order they were spent.
func (s *Set) All() []fr.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]fr.Element(nil), s.order...)
}

// Digest is a MiMC Merkle root over the nullifiers in spend order. Two
// replicas that applied the same transactions report the same digest.
func (s *Set) Digest() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil
	}
	tree := merkletree.New(utils.MiMCHasher())
	for i := range s.order {
		bz := s.order[i].Bytes()
		tree.Push(bz[:])
	}
	return tree.Root()
}
