package store

import (
	"TreasuryLedger/internal/ledger"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccounts = []byte("accounts")
	bucketBatches  = []byte("batches")
	bucketMeta     = []byte("meta")
	bucketNonces   = []byte("nonces")

	keySequence = []byte("sequence")
)

// Store is the bbolt-backed durable account state of the ledger.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketBatches, bucketMeta, bucketNonces} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Commit writes the batch, the resulting account states, the signer nonce
// of an attested batch and the new sequence in one bolt transaction.
func (s *Store) Commit(batch *ledger.Batch, accounts []ledger.Account) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch %d: %w", batch.Sequence, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		last := decodeSequence(meta.Get(keySequence))
		if batch.Sequence != last+1 {
			return fmt.Errorf("sequence gap: stored %d, committing %d", last, batch.Sequence)
		}

		accts := tx.Bucket(bucketAccounts)
		for i := range accounts {
			if err := accts.Put(accounts[i].Address[:], encodeAccount(&accounts[i])); err != nil {
				return fmt.Errorf("put account %s: %w", accounts[i].Address, err)
			}
		}
		if a := batch.Attestation; a != nil {
			if err := advanceNonce(tx.Bucket(bucketNonces), a.Signer, a.Nonce); err != nil {
				return err
			}
		}
		seqKey := encodeSequence(batch.Sequence)
		if err := tx.Bucket(bucketBatches).Put(seqKey, payload); err != nil {
			return fmt.Errorf("put batch %d: %w", batch.Sequence, err)
		}
		return meta.Put(keySequence, seqKey)
	})
}

// Load returns every stored account and the last committed sequence.
func (s *Store) Load() ([]ledger.Account, int64, error) {
	var (
		accounts []ledger.Account
		seq      int64
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		seq = decodeSequence(tx.Bucket(bucketMeta).Get(keySequence))
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			a, err := decodeAccount(v)
			if err != nil {
				return fmt.Errorf("account %x: %w", k, err)
			}
			accounts = append(accounts, a)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return accounts, seq, nil
}

// Replay is the replay-protection state recorded alongside the batches.
type Replay struct {
	// Highest committed nonce per signer
	Nonces map[solana.PublicKey]uint64

	// Attestations of the most recent signed batches, oldest first
	Recent []ledger.Attestation
}

// Replay reads every signer nonce and walks the batch log backwards
// collecting up to recent attestations.
func (s *Store) Replay(recent int) (*Replay, error) {
	r := &Replay{Nonces: make(map[solana.PublicKey]uint64)}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNonces).ForEach(func(k, v []byte) error {
			if len(k) != solana.PublicKeyLength || len(v) != 8 {
				return fmt.Errorf("malformed nonce record %x", k)
			}
			r.Nonces[solana.PublicKeyFromBytes(k)] = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return err
		}

		c := tx.Bucket(bucketBatches).Cursor()
		for k, v := c.Last(); k != nil && len(r.Recent) < recent; k, v = c.Prev() {
			var batch ledger.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return fmt.Errorf("batch %d: %w", decodeSequence(k), err)
			}
			if batch.Attestation != nil {
				r.Recent = append(r.Recent, *batch.Attestation)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(r.Recent)
	return r, nil
}

func advanceNonce(b *bolt.Bucket, signer solana.PublicKey, nonce uint64) error {
	if v := b.Get(signer[:]); len(v) == 8 && binary.BigEndian.Uint64(v) >= nonce {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	if err := b.Put(signer[:], buf[:]); err != nil {
		return fmt.Errorf("put nonce %s: %w", signer, err)
	}
	return nil
}

func encodeSequence(seq int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

func decodeSequence(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
