package prover

import (
	"fmt"
	"sort"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Ledger is what a wallet reads from the pool.
type Ledger interface {
	EncryptedOutputs(from uint64) ([]*types.EncryptedOutput, error)
	IsSpent(nf fr.Element) bool
}

// Wallet tracks the unspent notes of one keypair.
type Wallet struct {
	Keypair *types.Keypair

	mu     sync.Mutex
	notes  []*types.Note
	cursor uint64
}

func NewWallet() *Wallet {
	return WalletOf(types.NewKeypair())
}

func WalletOf(kp *types.Keypair) *Wallet {
	return &Wallet{Keypair: kp}
}

func (w *Wallet) Address() *types.ShieldedAddress {
	return w.Keypair.ShieldedAddress()
}

// Sync picks up outputs published since the last call and forgets notes that
// have been spent. It returns the number of unspent notes.
func (w *Wallet) Sync(l Ledger) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	outs, err := l.EncryptedOutputs(w.cursor)
	if err != nil {
		return 0, err
	}
	for _, o := range outs {
		w.cursor = o.Index + 1
		if len(o.Ciphertext) == 0 {
			continue
		}
		note, err := w.Keypair.DecryptNote(o.Ciphertext)
		if err != nil {
			// addressed to someone else
			continue
		}
		cm := note.Commitment()
		if !cm.Equal(&o.Commitment) {
			continue
		}
		if note.IsZero() {
			continue
		}
		note.Index = o.Index
		w.notes = append(w.notes, note)
	}

	unspent := w.notes[:0]
	for _, n := range w.notes {
		nf, err := n.Nullifier(n.Index, w.Keypair)
		if err != nil {
			return 0, err
		}
		if !l.IsSpent(nf) {
			unspent = append(unspent, n)
		}
	}
	w.notes = unspent
	return len(w.notes), nil
}

func (w *Wallet) Notes() []*types.Note {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*types.Note(nil), w.notes...)
}

func (w *Wallet) Balance() *uint256.Int {
	w.mu.Lock()
	defer w.mu.Unlock()

	ret := uint256.NewInt(0)
	for _, n := range w.notes {
		ret.Add(ret, n.Amount)
	}
	return ret
}

// Select picks notes covering amount, largest first, using as few inputs as
// possible and at most SixteenInput of them.
func (w *Wallet) Select(amount *uint256.Int) ([]*types.Note, error) {
	notes := w.Notes()
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].Amount.Gt(notes[j].Amount)
	})

	sum := uint256.NewInt(0)
	for i, n := range notes {
		if sum.Cmp(amount) >= 0 {
			return notes[:i], nil
		}
		if i == types.SixteenInput.Inputs() {
			break
		}
		sum.Add(sum, n.Amount)
	}
	if sum.Cmp(amount) >= 0 {
		return notes[:min(len(notes), types.SixteenInput.Inputs())], nil
	}
	return nil, fmt.Errorf("%w: have %s, need %s", types.ErrInvalidAmount, sum.Dec(), amount.Dec())
}
