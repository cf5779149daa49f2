// Package psbtstore persists in-progress vault transactions between
// signing rounds. Records are keyed by txid, which does not change while
// signatures are collected.
package psbtstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitfsorg/librevault-go/descriptor"
	"github.com/bitfsorg/librevault-go/txgraph"
)

// Record is a stored graph transaction.
type Record struct {
	Txid    chainhash.Hash
	Role    txgraph.Role
	State   txgraph.State
	Label   string // groups the transactions of one deposit or spend
	PSBT    []byte
	Updated time.Time
}

// NewRecord encodes tx for storage under label.
func NewRecord(tx *txgraph.Transaction, label string) (*Record, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction", ErrNilParam)
	}
	raw, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	return &Record{
		Txid:    tx.Txid(),
		Role:    tx.Role(),
		State:   tx.State(),
		Label:   label,
		PSBT:    raw,
		Updated: time.Now().UTC(),
	}, nil
}

// Transaction decodes the stored PSBT, attaching descriptors by witness
// script.
func (r *Record) Transaction(descriptors ...*descriptor.Descriptor) (*txgraph.Transaction, error) {
	tx, err := txgraph.Decode(r.PSBT, descriptors...)
	if err != nil {
		return nil, err
	}
	if tx.Txid() != r.Txid {
		return nil, fmt.Errorf("%w: stored under %s, decodes to %s", ErrInvalidRecord, r.Txid, tx.Txid())
	}
	return tx, nil
}

func (r *Record) clone() *Record {
	c := *r
	c.PSBT = bytes.Clone(r.PSBT)
	return &c
}

func (r *Record) validate() error {
	if r == nil {
		return fmt.Errorf("%w: record", ErrNilParam)
	}
	if len(r.PSBT) == 0 {
		return fmt.Errorf("%w: empty psbt", ErrInvalidRecord)
	}
	return nil
}

// Store persists graph transaction records.
type Store interface {
	// Put inserts or replaces the record stored under rec.Txid.
	Put(rec *Record) error

	// Get returns the record stored under txid.
	Get(txid chainhash.Hash) (*Record, error)

	// List returns every record, ordered by txid.
	List() ([]*Record, error)

	// ListByLabel returns the records stored under label, ordered by txid.
	ListByLabel(label string) ([]*Record, error)

	// Delete removes the record stored under txid.
	Delete(txid chainhash.Hash) error

	// Close releases the store.
	Close() error
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu      sync.RWMutex
	records map[chainhash.Hash]*Record
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[chainhash.Hash]*Record)}
}

// Put inserts or replaces rec.
func (s *MemStore) Put(rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Txid] = rec.clone()
	return nil
}

// Get returns the record stored under txid.
func (s *MemStore) Get(txid chainhash.Hash) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txid)
	}
	return rec.clone(), nil
}

// List returns every record, ordered by txid.
func (s *MemStore) List() ([]*Record, error) {
	return s.filter(func(*Record) bool { return true }), nil
}

// ListByLabel returns the records stored under label.
func (s *MemStore) ListByLabel(label string) ([]*Record, error) {
	return s.filter(func(r *Record) bool { return r.Label == label }), nil
}

func (s *MemStore) filter(keep func(*Record) bool) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Txid[:], out[j].Txid[:]) < 0
	})
	return out
}

// Delete removes the record stored under txid.
func (s *MemStore) Delete(txid chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[txid]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, txid)
	}
	delete(s.records, txid)
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }
