package chunkserver

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
)

type chunkMeta struct {
	checksum [sha256.Size]byte
	size     int64
}

// Store keeps chunks as plain files under one directory, one file per chunk,
// together with the checksum taken when the chunk was written.
type Store struct {
	dir string

	mu        sync.RWMutex
	files     map[string]map[int]chunkMeta
	quota     int64
	available int64
	pending   []models.ChunkRef // stored since the last minor heartbeat
	queued    map[models.ChunkRef]struct{}
	corrupted []models.ChunkRef // result of the last sweep
}

func NewStore(dir string, quota int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &Store{
		dir:       dir,
		files:     make(map[string]map[int]chunkMeta),
		quota:     quota,
		available: quota,
		queued:    make(map[models.ChunkRef]struct{}),
	}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) chunkPath(fileName string, chunkNumber int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_chunk%d", url.PathEscape(fileName), chunkNumber))
}

// StoreChunk writes one chunk and records its checksum. Writing a chunk that
// already exists replaces it and credits the old size back first.
func (s *Store) StoreChunk(fileName string, chunkNumber int, payload []byte) error {
	if fileName == "" || chunkNumber < 1 || len(payload) > helper.CHUNK_SIZE {
		return fmt.Errorf("%w: %s chunk %d (%d bytes)", helper.ErrInvalidChunk, fileName, chunkNumber, len(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.chunkPath(fileName, chunkNumber), payload, 0o644); err != nil {
		return fmt.Errorf("write %s chunk %d: %w", fileName, chunkNumber, err)
	}

	chunks, ok := s.files[fileName]
	if !ok {
		chunks = make(map[int]chunkMeta)
		s.files[fileName] = chunks
	}
	if old, exists := chunks[chunkNumber]; exists {
		s.available += old.size
	}
	chunks[chunkNumber] = chunkMeta{checksum: sha256.Sum256(payload), size: int64(len(payload))}
	s.available -= int64(len(payload))

	ref := models.ChunkRef{FileName: fileName, ChunkNumber: chunkNumber}
	if _, ok := s.queued[ref]; !ok {
		s.queued[ref] = struct{}{}
		s.pending = append(s.pending, ref)
	}
	return nil
}

// FetchChunk returns the stored payload, or false when the chunk is unknown
// or cannot be read.
func (s *Store) FetchChunk(fileName string, chunkNumber int) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[fileName][chunkNumber]; !ok {
		return nil, false
	}
	payload, err := os.ReadFile(s.chunkPath(fileName, chunkNumber))
	if err != nil {
		return nil, false
	}
	return payload, true
}

// ChecksumSweep re-reads every chunk and compares it against the checksum
// taken at write time. Unreadable chunks count as corrupted.
func (s *Store) ChecksumSweep() []models.ChunkRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	var corrupted []models.ChunkRef
	for _, fileName := range sortedFileNames(s.files) {
		chunks := s.files[fileName]
		for _, n := range sortedChunkNumbers(chunks) {
			payload, err := os.ReadFile(s.chunkPath(fileName, n))
			if err != nil {
				corrupted = append(corrupted, models.ChunkRef{FileName: fileName, ChunkNumber: n})
				continue
			}
			sum := sha256.Sum256(payload)
			want := chunks[n].checksum
			if !bytes.Equal(sum[:], want[:]) {
				corrupted = append(corrupted, models.ChunkRef{FileName: fileName, ChunkNumber: n})
			}
		}
	}
	s.corrupted = corrupted
	return append([]models.ChunkRef(nil), corrupted...)
}

// CorruptedChunks returns the findings of the last sweep.
func (s *Store) CorruptedChunks() []models.ChunkRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChunkRef(nil), s.corrupted...)
}

func (s *Store) CorruptionFound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.corrupted) > 0
}

// DrainNewChunks hands over the chunks stored since the previous call.
func (s *Store) DrainNewChunks() []models.ChunkRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.pending
	s.pending = nil
	s.queued = make(map[models.ChunkRef]struct{})
	return drained
}

func (s *Store) RemoveChunk(fileName string, chunkNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, ok := s.files[fileName]
	if !ok {
		return fmt.Errorf("%w: %s", helper.ErrFileNotFound, fileName)
	}
	meta, ok := chunks[chunkNumber]
	if !ok {
		return fmt.Errorf("%w: %s chunk %d", helper.ErrChunkNotFound, fileName, chunkNumber)
	}
	if err := os.Remove(s.chunkPath(fileName, chunkNumber)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(chunks, chunkNumber)
	if len(chunks) == 0 {
		delete(s.files, fileName)
	}
	s.available += meta.size
	return nil
}

func (s *Store) RemoveFile(fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, ok := s.files[fileName]
	if !ok {
		return fmt.Errorf("%w: %s", helper.ErrFileNotFound, fileName)
	}
	for n, meta := range chunks {
		if err := os.Remove(s.chunkPath(fileName, n)); err != nil && !os.IsNotExist(err) {
			return err
		}
		delete(chunks, n)
		s.available += meta.size
	}
	delete(s.files, fileName)
	return nil
}

func (s *Store) AvailableSpace() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

func (s *Store) StoredBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quota - s.available
}

// FileMap lists every stored file with its chunk numbers in ascending order.
func (s *Store) FileMap() map[string][]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make(map[string][]int, len(s.files))
	for name, chunks := range s.files {
		files[name] = sortedChunkNumbers(chunks)
	}
	return files
}

func sortedFileNames(files map[string]map[int]chunkMeta) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedChunkNumbers(chunks map[int]chunkMeta) []int {
	numbers := make([]int, 0, len(chunks))
	for n := range chunks {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}
