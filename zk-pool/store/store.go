// Package store persists pool state in goleveldb. Every transition is one
// write batch, so a crash leaves either the old state or the new one.
package store

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotInitialized = errors.New("store is not initialized")

// treeMeta holds the scalar part of the accumulator.
type treeMeta struct {
	Levels           uint64
	RootHistorySize  uint64
	CurrentRootIndex uint64
	NextIndex        uint64
	NullifierCount   uint64
}

// UnwrapRequest is an L1 unwrap the pool committed to but the bridge has not
// acknowledged yet.
type UnwrapRequest struct {
	ID        uint64
	Recipient common.Address
	Amount    *big.Int
	L1Fee     *big.Int
	Attempts  uint64
	LastError string
}

// State is everything needed to resume the pool.
type State struct {
	Tree       *merkle.Snapshot
	Nullifiers []fr.Element
	Balance    *uint256.Int
}

// Commit is one accepted transaction.
type Commit struct {
	Update           *merkle.Update
	Nullifiers       []fr.Element
	Balance          *uint256.Int
	EncryptedOutputs [][]byte
	Unwrap           *UnwrapRequest
}

type Store struct {
	db *leveldb.DB
	wo *opt.WriteOptions
}

// Open opens or creates the store at path. Writes are synced.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open pool store: %w", err)
	}
	return &Store{db: db, wo: &opt.WriteOptions{Sync: true}}, nil
}

// OpenMem opens a store backed by memory only.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init writes the state of a fresh pool. It refuses to overwrite.
func (s *Store) Init(snap *merkle.Snapshot) error {
	if ok, err := s.db.Has([]byte(metaKey), nil); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("store already initialized")
	}

	meta := &treeMeta{
		Levels:           uint64(snap.Levels),
		RootHistorySize:  uint64(len(snap.Roots)),
		CurrentRootIndex: uint64(snap.CurrentRootIndex),
		NextIndex:        snap.NextIndex,
	}
	batch := new(leveldb.Batch)
	if err := putMeta(batch, meta); err != nil {
		return err
	}
	for i := range snap.FilledSubtrees {
		bz := snap.FilledSubtrees[i].Bytes()
		batch.Put(filledKey(i), bz[:])
	}
	for i := range snap.Roots {
		bz := snap.Roots[i].Bytes()
		batch.Put(rootKey(i), bz[:])
	}
	for i := range snap.Leaves {
		bz := snap.Leaves[i].Bytes()
		batch.Put(leafKey(uint64(i)), bz[:])
	}
	var zero [32]byte
	batch.Put([]byte(balanceKey), zero[:])
	return s.db.Write(batch, s.wo)
}

// Commit applies a transition in a single batch.
func (s *Store) Commit(c *Commit) error {
	meta, err := s.meta()
	if err != nil {
		return err
	}
	u := c.Update
	if u.StartIndex != meta.NextIndex {
		return fmt.Errorf("commit at index %d, store is at %d", u.StartIndex, meta.NextIndex)
	}

	batch := new(leveldb.Batch)
	for i := range u.FilledSubtrees {
		bz := u.FilledSubtrees[i].Bytes()
		batch.Put(filledKey(i), bz[:])
	}
	root := u.Root.Bytes()
	batch.Put(rootKey(u.RootIndex), root[:])
	for i := range u.Leaves {
		bz := u.Leaves[i].Bytes()
		batch.Put(leafKey(u.StartIndex+uint64(i)), bz[:])
	}
	for i, ct := range c.EncryptedOutputs {
		batch.Put(outputKey(u.StartIndex+uint64(i)), ct)
	}
	for i := range c.Nullifiers {
		seq, err := rlp.EncodeToBytes(meta.NullifierCount + uint64(i))
		if err != nil {
			return err
		}
		batch.Put(nullifierKey(c.Nullifiers[i].Bytes()), seq)
	}
	bal := c.Balance.Bytes32()
	batch.Put([]byte(balanceKey), bal[:])

	if c.Unwrap != nil {
		if err := s.putUnwrap(batch, c.Unwrap); err != nil {
			return err
		}
		seq, err := rlp.EncodeToBytes(c.Unwrap.ID + 1)
		if err != nil {
			return err
		}
		batch.Put([]byte(unwrapSeqKey), seq)
	}

	meta.CurrentRootIndex = uint64(u.RootIndex)
	meta.NextIndex += uint64(len(u.Leaves))
	meta.NullifierCount += uint64(len(c.Nullifiers))
	if err := putMeta(batch, meta); err != nil {
		return err
	}
	return s.db.Write(batch, s.wo)
}

// Load reads the persisted state. It returns ErrNotInitialized for an empty store.
func (s *Store) Load() (*State, error) {
	meta, err := s.meta()
	if err != nil {
		return nil, err
	}

	snap := &merkle.Snapshot{
		Levels:           int(meta.Levels),
		FilledSubtrees:   make([]fr.Element, meta.Levels),
		Roots:            make([]fr.Element, meta.RootHistorySize),
		CurrentRootIndex: int(meta.CurrentRootIndex),
		NextIndex:        meta.NextIndex,
	}
	for i := range snap.FilledSubtrees {
		if snap.FilledSubtrees[i], err = s.element(filledKey(i)); err != nil {
			return nil, fmt.Errorf("filled subtree %d: %w", i, err)
		}
	}
	for i := range snap.Roots {
		if snap.Roots[i], err = s.element(rootKey(i)); err != nil {
			return nil, fmt.Errorf("root slot %d: %w", i, err)
		}
	}
	if snap.Leaves, err = s.leaves(); err != nil {
		return nil, err
	}
	if uint64(len(snap.Leaves)) != meta.NextIndex {
		return nil, fmt.Errorf("found %d leaves, expected %d", len(snap.Leaves), meta.NextIndex)
	}

	nfs, err := s.nullifiers()
	if err != nil {
		return nil, err
	}
	if uint64(len(nfs)) != meta.NullifierCount {
		return nil, fmt.Errorf("found %d nullifiers, expected %d", len(nfs), meta.NullifierCount)
	}

	bal, err := s.Balance()
	if err != nil {
		return nil, err
	}
	return &State{Tree: snap, Nullifiers: nfs, Balance: bal}, nil
}

func (s *Store) Balance() (*uint256.Int, error) {
	bz, err := s.db.Get([]byte(balanceKey), nil)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return new(uint256.Int).SetBytes(bz), nil
}

// IsNullifierSpent reads the nullifier index directly.
func (s *Store) IsNullifierSpent(nf fr.Element) (bool, error) {
	return s.db.Has(nullifierKey(nf.Bytes()), nil)
}

// EncryptedOutputs returns every published ciphertext from leaf index from on.
func (s *Store) EncryptedOutputs(from uint64) ([]*types.EncryptedOutput, error) {
	rng := util.BytesPrefix([]byte(outputPrefix))
	rng.Start = outputKey(from)
	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	var out []*types.EncryptedOutput
	for iter.Next() {
		idx, err := parseIndex(string(iter.Key()), outputPrefix)
		if err != nil {
			return nil, err
		}
		cm, err := s.element(leafKey(idx))
		if err != nil {
			return nil, fmt.Errorf("commitment %d: %w", idx, err)
		}
		out = append(out, &types.EncryptedOutput{
			Index:      idx,
			Commitment: cm,
			Ciphertext: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// NextUnwrapID is the id the next outbox entry gets.
func (s *Store) NextUnwrapID() (uint64, error) {
	bz, err := s.db.Get([]byte(unwrapSeqKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	var id uint64
	if err := rlp.DecodeBytes(bz, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateUnwrap rewrites an outbox entry after a failed attempt.
func (s *Store) UpdateUnwrap(req *UnwrapRequest) error {
	batch := new(leveldb.Batch)
	if err := s.putUnwrap(batch, req); err != nil {
		return err
	}
	return s.db.Write(batch, s.wo)
}

// CompleteUnwrap removes an acknowledged outbox entry.
func (s *Store) CompleteUnwrap(id uint64) error {
	return s.db.Delete(unwrapKey(id), s.wo)
}

// PendingUnwraps lists outbox entries by id.
func (s *Store) PendingUnwraps() ([]*UnwrapRequest, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(unwrapPrefix)), nil)
	defer iter.Release()

	var out []*UnwrapRequest
	for iter.Next() {
		req := new(UnwrapRequest)
		if err := rlp.DecodeBytes(iter.Value(), req); err != nil {
			return nil, fmt.Errorf("decode unwrap %q: %w", iter.Key(), err)
		}
		out = append(out, req)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) putUnwrap(batch *leveldb.Batch, req *UnwrapRequest) error {
	bz, err := rlp.EncodeToBytes(req)
	if err != nil {
		return fmt.Errorf("encode unwrap %d: %w", req.ID, err)
	}
	batch.Put(unwrapKey(req.ID), bz)
	return nil
}

func (s *Store) meta() (*treeMeta, error) {
	bz, err := s.db.Get([]byte(metaKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotInitialized
	} else if err != nil {
		return nil, err
	}
	meta := new(treeMeta)
	if err := rlp.DecodeBytes(bz, meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return meta, nil
}

func putMeta(batch *leveldb.Batch, meta *treeMeta) error {
	bz, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	batch.Put([]byte(metaKey), bz)
	return nil
}

func (s *Store) element(key []byte) (fr.Element, error) {
	bz, err := s.db.Get(key, nil)
	if err != nil {
		return fr.Element{}, err
	}
	var e fr.Element
	if err := e.SetBytesCanonical(bz); err != nil {
		return fr.Element{}, err
	}
	return e, nil
}

func (s *Store) leaves() ([]fr.Element, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(leafPrefix)), nil)
	defer iter.Release()

	var out []fr.Element
	for iter.Next() {
		idx, err := parseIndex(string(iter.Key()), leafPrefix)
		if err != nil {
			return nil, err
		}
		if idx != uint64(len(out)) {
			return nil, fmt.Errorf("gap in leaves at %d", len(out))
		}
		var e fr.Element
		if err := e.SetBytesCanonical(iter.Value()); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", idx, err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// nullifiers returns the spent set in spend order.
func (s *Store) nullifiers() ([]fr.Element, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(nfPrefix)), nil)
	defer iter.Release()

	type entry struct {
		seq uint64
		nf  fr.Element
	}
	var entries []entry
	for iter.Next() {
		raw, err := hexNullifier(string(iter.Key()))
		if err != nil {
			return nil, err
		}
		var seq uint64
		if err := rlp.DecodeBytes(iter.Value(), &seq); err != nil {
			return nil, fmt.Errorf("nullifier sequence: %w", err)
		}
		var nf fr.Element
		if err := nf.SetBytesCanonical(raw); err != nil {
			return nil, err
		}
		entries = append(entries, entry{seq: seq, nf: nf})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	out := make([]fr.Element, len(entries))
	for i := range entries {
		out[i] = entries[i].nf
	}
	return out, nil
}
