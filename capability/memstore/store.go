// Package memstore implements capability.Storage on top of LevelDB,
// grounded on the teacher's chaindata backend: go-ethereum's node stores
// its append-only block/receipt data and its key-value ancillary indices
// in the same github.com/syndtr/goleveldb database, distinguished only by
// key prefix. This package keeps that shape for the three layouts §6
// calls for (event log, index, blob store) instead of hand-rolling an
// in-memory map set, since nothing in this module needs the data to
// survive only as long as the process.
package memstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes partition the single LevelDB keyspace into the three
// layouts capability.Storage exposes. A real on-disk layout keyed
// entirely on prefix bytes, rather than three separate databases, is the
// same trick the teacher's rawdb package uses to keep one file handle.
const (
	prefixLog   byte = 'l'
	prefixIndex byte = 'i'
	prefixBlob  byte = 'b'
)

// Store is a LevelDB-backed capability.Storage. It is safe for
// concurrent use; LevelDB itself serializes writes, but the event log's
// append counter is guarded separately so two concurrent appends to the
// same channel never race on the next sequence number.
type Store struct {
	db *leveldb.DB

	mu      sync.Mutex
	nextSeq map[[32]byte]uint64
}

// Open creates or reuses a LevelDB database rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("memstore: open %s: %w", dir, err)
	}
	return &Store{db: db, nextSeq: make(map[[32]byte]uint64)}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// logKey encodes the append-only key for channelID's seq-th record as
// prefix || channelID || big-endian seq, so a prefix scan over
// prefix||channelID yields records in append order without needing a
// separate index.
func logKey(channelID [32]byte, seq uint64) []byte {
	key := make([]byte, 1+32+8)
	key[0] = prefixLog
	copy(key[1:], channelID[:])
	binary.BigEndian.PutUint64(key[33:], seq)
	return key
}

func (s *Store) AppendEventLog(ctx context.Context, channelID [32]byte, record []byte) error {
	s.mu.Lock()
	seq, ok := s.nextSeq[channelID]
	if !ok {
		// First append to this channel since the process started; the
		// counter must resume after whatever was already on disk from a
		// prior run, not reset to 0 and overwrite record 0.
		seq = s.countExisting(channelID)
	}
	s.nextSeq[channelID] = seq + 1
	s.mu.Unlock()

	if err := s.db.Put(logKey(channelID, seq), record, nil); err != nil {
		return fmt.Errorf("memstore: append event log: %w", err)
	}
	return nil
}

// countExisting scans the on-disk log for channelID and returns the
// number of records already stored, i.e. the next free sequence number.
// Callers must hold s.mu.
func (s *Store) countExisting(channelID [32]byte) uint64 {
	prefix := append([]byte{prefixLog}, channelID[:]...)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var n uint64
	for iter.Next() {
		n++
	}
	return n
}

func (s *Store) ReadEventLog(ctx context.Context, channelID [32]byte) ([][]byte, error) {
	prefix := append([]byte{prefixLog}, channelID[:]...)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var records [][]byte
	for iter.Next() {
		record := make([]byte, len(iter.Value()))
		copy(record, iter.Value())
		records = append(records, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("memstore: read event log: %w", err)
	}
	return records, nil
}

func (s *Store) PutIndex(ctx context.Context, key, value []byte) error {
	if err := s.db.Put(append([]byte{prefixIndex}, key...), value, nil); err != nil {
		return fmt.Errorf("memstore: put index: %w", err)
	}
	return nil
}

func (s *Store) GetIndex(ctx context.Context, key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(append([]byte{prefixIndex}, key...), nil)
	if err == errors.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memstore: get index: %w", err)
	}
	return value, true, nil
}

func (s *Store) PutBlob(ctx context.Context, id [32]byte, data []byte) error {
	key := append([]byte{prefixBlob}, id[:]...)
	if err := s.db.Put(key, data, nil); err != nil {
		return fmt.Errorf("memstore: put blob: %w", err)
	}
	return nil
}

func (s *Store) GetBlob(ctx context.Context, id [32]byte) ([]byte, bool, error) {
	key := append([]byte{prefixBlob}, id[:]...)
	data, err := s.db.Get(key, nil)
	if err == errors.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memstore: get blob: %w", err)
	}
	return data, true, nil
}
