package psbtstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketLabels  = []byte("labels")
)

// BoltStore persists records in a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("psbtstore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("psbtstore: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketLabels} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("psbtstore: create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// labelKey is label || 0x00 || txid, so a label prefix scan cannot match a
// longer label.
func labelKey(label string, txid chainhash.Hash) []byte {
	k := make([]byte, 0, len(label)+1+chainhash.HashSize)
	k = append(k, label...)
	k = append(k, 0x00)
	return append(k, txid[:]...)
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put inserts or replaces rec, moving its label index entry when the label
// changed.
func (s *BoltStore) Put(rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("psbtstore: encode record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		labels := tx.Bucket(bucketLabels)

		if old := records.Get(rec.Txid[:]); old != nil {
			prev, err := decodeRecord(old)
			if err != nil {
				return fmt.Errorf("psbtstore: decode record: %w", err)
			}
			if err := labels.Delete(labelKey(prev.Label, prev.Txid)); err != nil {
				return fmt.Errorf("psbtstore: delete label entry: %w", err)
			}
		}
		if err := records.Put(rec.Txid[:], data); err != nil {
			return fmt.Errorf("psbtstore: put record: %w", err)
		}
		if err := labels.Put(labelKey(rec.Label, rec.Txid), []byte{}); err != nil {
			return fmt.Errorf("psbtstore: put label entry: %w", err)
		}
		return nil
	})
}

// Get returns the record stored under txid.
func (s *BoltStore) Get(txid chainhash.Hash) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get(txid[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, txid)
		}
		var err error
		if rec, err = decodeRecord(data); err != nil {
			return fmt.Errorf("psbtstore: decode record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every record, ordered by txid.
func (s *BoltStore) List() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("psbtstore: decode record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByLabel returns the records stored under label, ordered by txid.
func (s *BoltStore) ListByLabel(label string) ([]*Record, error) {
	prefix := append([]byte(label), 0x00)

	var out []*Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		c := tx.Bucket(bucketLabels).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := records.Get(k[len(prefix):])
			if data == nil {
				continue // stale index entry
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return fmt.Errorf("psbtstore: decode record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record stored under txid and its label entry.
func (s *BoltStore) Delete(txid chainhash.Hash) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		data := records.Get(txid[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, txid)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("psbtstore: decode record: %w", err)
		}
		if err := tx.Bucket(bucketLabels).Delete(labelKey(rec.Label, txid)); err != nil {
			return fmt.Errorf("psbtstore: delete label entry: %w", err)
		}
		if err := records.Delete(txid[:]); err != nil {
			return fmt.Errorf("psbtstore: delete record: %w", err)
		}
		return nil
	})
}
