// Package badgerstore is the default embedded durability.Store,
// grounded on marmos91-dittofs's
// pkg/metadata/store/badger package: a prefixed key namespace over a
// single badger.DB, JSON-encoded values, and context-cancellation
// checks at the top of every operation.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/durability"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// Store is a badger-backed durability.Store. Keys are "cc:<16-byte
// writer GUID><8-byte big-endian SN>", mirroring the teacher's
// "f:<uuid>"-style prefixed key namespace.
type Store struct {
	db *badger.DB
}

const keyPrefix = "cc:"

// Open opens (creating if absent) a badger database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func key(writer guid.GUID, sn seqnum.SequenceNumber) []byte {
	wb := writer.Bytes()
	out := make([]byte, 0, len(keyPrefix)+16+8)
	out = append(out, keyPrefix...)
	out = append(out, wb[:]...)
	snBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(snBytes, uint64(sn))
	return append(out, snBytes...)
}

func writerPrefix(writer guid.GUID) []byte {
	wb := writer.Bytes()
	out := make([]byte, 0, len(keyPrefix)+16)
	out = append(out, keyPrefix...)
	return append(out, wb[:]...)
}

type wireRecord struct {
	WriterGUID    [16]byte `json:"writer_guid"`
	SN            int64    `json:"sn"`
	Kind          int      `json:"kind"`
	Instance      [16]byte `json:"instance"`
	SourceTimeUTC int64    `json:"source_time_unix_nano"`
	InlineQoS     []byte   `json:"inline_qos,omitempty"`
	Payload       []byte   `json:"payload"`
	FragmentSize  uint32   `json:"fragment_size,omitempty"`
	FragmentCount uint32   `json:"fragment_count,omitempty"`
}

func (s *Store) Put(ctx context.Context, c *change.CacheChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wr := wireRecord{
		WriterGUID:    c.WriterGUID.Bytes(),
		SN:            int64(c.SN),
		Kind:          int(c.Kind),
		Instance:      c.Instance,
		SourceTimeUTC: c.SourceTime.UnixNano(),
		InlineQoS:     c.InlineQoS,
		Payload:       c.Payload,
		FragmentSize:  c.FragmentSize,
		FragmentCount: c.FragmentCount,
	}
	data, err := json.Marshal(wr)
	if err != nil {
		return fmt.Errorf("badgerstore: encode change: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(c.WriterGUID, c.SN), data)
	})
}

func (s *Store) Get(ctx context.Context, writer guid.GUID, sn seqnum.SequenceNumber) (*change.CacheChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *change.CacheChange
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(writer, sn))
		if err == badger.ErrKeyNotFound {
			return durability.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			c, decErr := decode(val)
			if decErr != nil {
				return decErr
			}
			out = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, writer guid.GUID, sn seqnum.SequenceNumber) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(writer, sn))
	})
}

func (s *Store) Iterate(ctx context.Context, writer guid.GUID, fn func(*change.CacheChange) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := writerPrefix(writer)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var stop bool
			err := it.Item().Value(func(val []byte) error {
				c, err := decode(val)
				if err != nil {
					return err
				}
				if !fn(c) {
					stop = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}

func decode(val []byte) (*change.CacheChange, error) {
	var wr wireRecord
	if err := json.Unmarshal(val, &wr); err != nil {
		return nil, fmt.Errorf("badgerstore: decode change: %w", err)
	}
	return &change.CacheChange{
		WriterGUID:    guid.FromBytes(wr.WriterGUID),
		SN:            seqnum.SequenceNumber(wr.SN),
		Kind:          change.Kind(wr.Kind),
		Instance:      wr.Instance,
		SourceTime:    time.Unix(0, wr.SourceTimeUTC),
		InlineQoS:     wr.InlineQoS,
		Payload:       wr.Payload,
		FragmentSize:  wr.FragmentSize,
		FragmentCount: wr.FragmentCount,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ durability.Store = (*Store)(nil)
