package chunkserver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), helper.CHUNK_SERVER_QUOTA)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStoreAndFetch(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte("x"), 1000)
	if err := store.StoreChunk("f", 1, payload); err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}

	got, ok := store.FetchChunk("f", 1)
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("FetchChunk = %d bytes, %v", len(got), ok)
	}
	if _, ok := store.FetchChunk("f", 2); ok {
		t.Fatal("FetchChunk of an absent chunk succeeded")
	}
	if _, ok := store.FetchChunk("g", 1); ok {
		t.Fatal("FetchChunk of an absent file succeeded")
	}
	if got := store.AvailableSpace(); got != helper.CHUNK_SERVER_QUOTA-1000 {
		t.Fatalf("AvailableSpace = %d", got)
	}
}

func TestStoreChunkOverwriteCreditsOldSize(t *testing.T) {
	store := newTestStore(t)
	store.StoreChunk("f", 1, make([]byte, 1000))
	store.StoreChunk("f", 1, make([]byte, 300))
	if got := store.AvailableSpace(); got != helper.CHUNK_SERVER_QUOTA-300 {
		t.Fatalf("AvailableSpace = %d, want %d", got, helper.CHUNK_SERVER_QUOTA-300)
	}
	if got := store.StoredBytes(); got != 300 {
		t.Fatalf("StoredBytes = %d", got)
	}
}

func TestStoreChunkRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	cases := []struct {
		name    string
		file    string
		chunk   int
		payload []byte
	}{
		{"empty name", "", 1, []byte("a")},
		{"chunk zero", "f", 0, []byte("a")},
		{"oversized", "f", 1, make([]byte, helper.CHUNK_SIZE+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.StoreChunk(tc.file, tc.chunk, tc.payload); !errors.Is(err, helper.ErrInvalidChunk) {
				t.Fatalf("StoreChunk: err = %v, want ErrInvalidChunk", err)
			}
		})
	}
	if err := store.StoreChunk("f", 1, make([]byte, helper.CHUNK_SIZE)); err != nil {
		t.Fatalf("StoreChunk of a full chunk: %v", err)
	}
}

func TestChecksumSweepDetectsTampering(t *testing.T) {
	store := newTestStore(t)
	store.StoreChunk("f", 1, []byte("first chunk"))
	store.StoreChunk("f", 2, []byte("second chunk"))

	if got := store.ChecksumSweep(); len(got) != 0 || store.CorruptionFound() {
		t.Fatalf("clean sweep reported %v", got)
	}

	path := store.chunkPath("f", 2)
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	want := []models.ChunkRef{{FileName: "f", ChunkNumber: 2}}
	if got := store.ChecksumSweep(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ChecksumSweep = %v, want %v", got, want)
	}
	if !store.CorruptionFound() {
		t.Fatal("corruption flag not set")
	}

	os.Remove(path)
	if got := store.ChecksumSweep(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sweep with missing file = %v", got)
	}

	os.WriteFile(path, []byte("second chunk"), 0o644)
	if got := store.ChecksumSweep(); len(got) != 0 || store.CorruptionFound() {
		t.Fatalf("restored sweep reported %v", got)
	}
}

func TestDrainNewChunks(t *testing.T) {
	store := newTestStore(t)
	store.StoreChunk("f", 1, []byte("a"))
	store.StoreChunk("f", 2, []byte("b"))
	store.StoreChunk("f", 1, []byte("c"))

	want := []models.ChunkRef{{FileName: "f", ChunkNumber: 1}, {FileName: "f", ChunkNumber: 2}}
	if got := store.DrainNewChunks(); !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainNewChunks = %v, want %v", got, want)
	}
	if got := store.DrainNewChunks(); len(got) != 0 {
		t.Fatalf("second drain = %v", got)
	}
	if got := store.FileMap(); !reflect.DeepEqual(got, map[string][]int{"f": {1, 2}}) {
		t.Fatalf("FileMap = %v", got)
	}
}

func TestRemoveCreditsCapacity(t *testing.T) {
	store := newTestStore(t)
	store.StoreChunk("f", 1, make([]byte, 100))
	store.StoreChunk("f", 2, make([]byte, 50))
	store.StoreChunk("g", 1, make([]byte, 10))

	if err := store.RemoveChunk("f", 2); err != nil {
		t.Fatalf("RemoveChunk: %v", err)
	}
	if err := store.RemoveChunk("f", 2); !errors.Is(err, helper.ErrChunkNotFound) {
		t.Fatalf("RemoveChunk again: err = %v", err)
	}
	if err := store.RemoveFile("f"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if err := store.RemoveFile("f"); !errors.Is(err, helper.ErrFileNotFound) {
		t.Fatalf("RemoveFile again: err = %v", err)
	}
	if got := store.AvailableSpace(); got != helper.CHUNK_SERVER_QUOTA-10 {
		t.Fatalf("AvailableSpace = %d", got)
	}
	if _, err := os.Stat(store.chunkPath("f", 1)); !os.IsNotExist(err) {
		t.Fatalf("chunk file still present: %v", err)
	}
}

func TestFileNamesStayInsideStorageDir(t *testing.T) {
	store := newTestStore(t)
	if err := store.StoreChunk("../nested/name", 1, []byte("a")); err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].IsDir() {
		t.Fatalf("storage dir holds %v", entries)
	}
	if filepath.Dir(store.chunkPath("../nested/name", 1)) != store.Dir() {
		t.Fatalf("chunk path escapes: %s", store.chunkPath("../nested/name", 1))
	}
}

func TestNextHop(t *testing.T) {
	cases := []struct {
		self  string
		chain []string
		peer  string
		rest  []string
		ok    bool
	}{
		{"A", []string{"B", "C"}, "B", []string{"C"}, true},
		{"A", []string{"A", "B", "C"}, "B", []string{"C"}, true},
		{"B", []string{"C"}, "C", []string{}, true},
		{"C", nil, "", nil, false},
		{"C", []string{"C"}, "", nil, false},
	}
	for _, tc := range cases {
		peer, rest, ok := nextHop(tc.self, tc.chain)
		if peer != tc.peer || ok != tc.ok || !reflect.DeepEqual(rest, tc.rest) {
			t.Errorf("nextHop(%s, %v) = %s %v %v", tc.self, tc.chain, peer, rest, ok)
		}
	}
}
