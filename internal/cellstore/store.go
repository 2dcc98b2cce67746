package cellstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/xDarkicex/lopq/lopq"
)

// cellState is the mutable, in-memory representation of one coarse
// cell's membership: parallel id and FineCode sequences.
type cellState struct {
	ids  []string
	fine []lopq.FineCode
}

// Store is a WAL-backed lopq.CellFetcher: every insert/delete is first
// durably logged, then applied to an in-memory map keyed the same way
// lopq.Searcher packs its cell cache, so GetCell never touches disk.
type Store struct {
	mu      sync.RWMutex
	wal     *WAL
	kCoarse int
	cells   map[uint64]*cellState
}

// Open opens (or creates) the log at path and replays it into memory.
// kCoarse must match the K_coarse of the Model this Store's cells will
// be scored against — it is required up front so the in-memory cell key
// packing agrees with lopq.Searcher's.
func Open(path string, kCoarse int) (*Store, error) {
	if kCoarse <= 0 {
		return nil, fmt.Errorf("cellstore: kCoarse must be positive")
	}
	wal, err := OpenWAL(path)
	if err != nil {
		return nil, err
	}

	s := &Store{wal: wal, kCoarse: kCoarse, cells: make(map[uint64]*cellState)}

	entries, err := wal.ReadAll()
	if err != nil {
		wal.Close()
		return nil, err
	}
	for _, e := range entries {
		s.apply(e)
	}
	return s, nil
}

// key packs a coarse code as a*kCoarse + b, the same packing
// lopq.Searcher uses for its cell cache.
func (s *Store) key(a, b uint32) uint64 {
	return uint64(a)*uint64(s.kCoarse) + uint64(b)
}

func (s *Store) apply(e *Entry) {
	k := s.key(e.CoarseA, e.CoarseB)
	state, ok := s.cells[k]
	if !ok {
		state = &cellState{}
		s.cells[k] = state
	}

	switch e.Operation {
	case OpInsert:
		state.ids = append(state.ids, e.ID)
		state.fine = append(state.fine, lopq.FineCode(e.Fine))
	case OpDelete:
		for i, id := range state.ids {
			if id == e.ID {
				state.ids = append(state.ids[:i], state.ids[i+1:]...)
				state.fine = append(state.fine[:i], state.fine[i+1:]...)
				break
			}
		}
	}
}

// Insert durably records id/fine joining the cell for coarse, then
// applies it to the in-memory map.
func (s *Store) Insert(coarse lopq.CoarseCode, id string, fine lopq.FineCode) error {
	entry := &Entry{Operation: OpInsert, CoarseA: coarse[0], CoarseB: coarse[1], ID: id, Fine: [16]uint8(fine)}
	if err := s.wal.Append(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(entry)
	return nil
}

// Delete durably records id leaving the cell for coarse.
func (s *Store) Delete(coarse lopq.CoarseCode, id string) error {
	entry := &Entry{Operation: OpDelete, CoarseA: coarse[0], CoarseB: coarse[1], ID: id}
	if err := s.wal.Append(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(entry)
	return nil
}

// GetCell implements lopq.CellFetcher. A coarse code with no recorded
// members returns an empty, non-nil Cluster rather than an error.
func (s *Store) GetCell(ctx context.Context, coarse lopq.CoarseCode) (*lopq.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.cells[s.key(coarse[0], coarse[1])]
	if !ok {
		return &lopq.Cluster{}, nil
	}

	ids := append([]string(nil), state.ids...)
	vectors := append([]lopq.FineCode(nil), state.fine...)
	return &lopq.Cluster{IDs: ids, Vectors: vectors}, nil
}

// Close releases the underlying log.
func (s *Store) Close() error {
	return s.wal.Close()
}
