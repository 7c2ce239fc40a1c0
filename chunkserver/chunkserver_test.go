package chunkserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

// fakeController accepts every registration and records heartbeats.
type fakeController struct {
	server *transport.Server
	refuse bool

	mu         sync.Mutex
	heartbeats []models.Message
}

func startFakeController(t *testing.T, refuse bool) *fakeController {
	t.Helper()
	fc := &fakeController{refuse: refuse}
	server, err := transport.Listen("127.0.0.1:0", transport.HandlerFunc(fc.handle), zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	fc.server = server
	go server.Serve(context.Background())
	t.Cleanup(func() { server.Close() })
	return fc
}

func (fc *fakeController) handle(ctx context.Context, msg models.Message) models.Message {
	switch m := msg.(type) {
	case *models.RegisterRequest:
		if fc.refuse {
			return &models.RegisterResponse{Status: models.FAILURE, Info: "Node had previously registered"}
		}
		return &models.RegisterResponse{Status: models.SUCCESS, Info: "Registration successful"}
	case *models.DeregisterRequest:
		return &models.DeregisterResponse{Status: models.SUCCESS}
	case *models.MinorHeartbeat, *models.MajorHeartbeat:
		fc.mu.Lock()
		fc.heartbeats = append(fc.heartbeats, m)
		fc.mu.Unlock()
	}
	return nil
}

func (fc *fakeController) received() []models.Message {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]models.Message(nil), fc.heartbeats...)
}

func startChunkServer(t *testing.T, controller string) *ChunkServer {
	t.Helper()
	config := helper.DefaultChunkServerConfig
	config.Address = "127.0.0.1:0"
	config.ControllerAddress = controller
	config.StorageRoot = t.TempDir()
	config.HeartbeatInterval = 50 * time.Millisecond
	config.MajorEvery = 2

	cs, err := New(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := cs.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestReplicationChain(t *testing.T) {
	fc := startFakeController(t, false)
	a := startChunkServer(t, fc.server.Addr().String())
	b := startChunkServer(t, fc.server.Addr().String())
	c := startChunkServer(t, fc.server.Addr().String())

	payload := bytes.Repeat([]byte("chunk"), 1000)
	err := transport.Notify(context.Background(), a.Identity(), &models.Upload{
		FileName:    "f",
		ChunkNumber: 1,
		TotalChunks: 1,
		Chain:       []string{b.Identity(), c.Identity()},
		Payload:     payload,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	for _, cs := range []*ChunkServer{a, b, c} {
		cs := cs
		eventually(t, 5*time.Second, func() bool {
			got, ok := cs.Store().FetchChunk("f", 1)
			return ok && bytes.Equal(got, payload)
		})
	}
}

func TestChainNamingReceiverIsStripped(t *testing.T) {
	fc := startFakeController(t, false)
	a := startChunkServer(t, fc.server.Addr().String())
	b := startChunkServer(t, fc.server.Addr().String())

	err := transport.Notify(context.Background(), a.Identity(), &models.Upload{
		FileName:    "f",
		ChunkNumber: 1,
		TotalChunks: 1,
		Chain:       []string{a.Identity(), b.Identity()},
		Payload:     []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	eventually(t, 5*time.Second, func() bool {
		_, ok := b.Store().FetchChunk("f", 1)
		return ok
	})
	if got := a.Store().StoredBytes(); got != int64(len("payload")) {
		t.Fatalf("receiver stored %d bytes", got)
	}
}

func TestDownloadChunkRequest(t *testing.T) {
	fc := startFakeController(t, false)
	cs := startChunkServer(t, fc.server.Addr().String())
	cs.Store().StoreChunk("f", 3, []byte("third"))

	reply, err := transport.Request(context.Background(), cs.Identity(), &models.DownloadChunkRequest{FileName: "f", ChunkNumber: 3})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	resp := reply.(*models.DownloadChunkResponse)
	if !resp.Success || resp.ChunkNumber != 3 || string(resp.Payload) != "third" {
		t.Fatalf("response = %+v", resp)
	}

	reply, err = transport.Request(context.Background(), cs.Identity(), &models.DownloadChunkRequest{FileName: "f", ChunkNumber: 4})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp := reply.(*models.DownloadChunkResponse); resp.Success || len(resp.Payload) != 0 {
		t.Fatalf("response for absent chunk = %+v", resp)
	}
}

func TestHeartbeatSchedule(t *testing.T) {
	fc := startFakeController(t, false)
	cs := startChunkServer(t, fc.server.Addr().String())

	eventually(t, 5*time.Second, func() bool { return len(fc.received()) > 0 })
	first, ok := fc.received()[0].(*models.MajorHeartbeat)
	if !ok {
		t.Fatalf("first heartbeat is %T, want major", fc.received()[0])
	}
	if first.Identity != cs.Identity() || first.AvailableSpace != helper.CHUNK_SERVER_QUOTA {
		t.Fatalf("first heartbeat = %+v", first)
	}

	cs.Store().StoreChunk("f", 1, []byte("abc"))
	eventually(t, 5*time.Second, func() bool {
		for _, msg := range fc.received() {
			switch hb := msg.(type) {
			case *models.MinorHeartbeat:
				if hb.ChunksAdded && len(hb.AddedChunks) == 1 && hb.AddedChunks[0].FileName == "f" {
					return true
				}
			}
		}
		return false
	})
	eventually(t, 5*time.Second, func() bool {
		for _, msg := range fc.received() {
			if hb, ok := msg.(*models.MajorHeartbeat); ok && len(hb.Files["f"]) == 1 {
				return hb.AvailableSpace == helper.CHUNK_SERVER_QUOTA-3
			}
		}
		return false
	})
}

func TestHeartbeatReportsCorruption(t *testing.T) {
	fc := startFakeController(t, false)
	cs := startChunkServer(t, fc.server.Addr().String())
	cs.Store().StoreChunk("f", 1, []byte("abc"))
	if err := os.WriteFile(cs.Store().chunkPath("f", 1), []byte("xyz"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, func() bool {
		for _, msg := range fc.received() {
			if hb, ok := msg.(*models.MinorHeartbeat); ok && hb.CorruptFound {
				return hb.CorruptedChunks[0] == models.ChunkRef{FileName: "f", ChunkNumber: 1}
			}
		}
		return false
	})
}

func TestStartFailsWhenRegistrationRefused(t *testing.T) {
	fc := startFakeController(t, true)
	config := helper.DefaultChunkServerConfig
	config.Address = "127.0.0.1:0"
	config.ControllerAddress = fc.server.Addr().String()
	config.StorageRoot = t.TempDir()

	cs, err := New(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := cs.Start(context.Background()); !errors.Is(err, helper.ErrRequestFailed) {
		t.Fatalf("Start: err = %v, want ErrRequestFailed", err)
	}
}

func TestDeregister(t *testing.T) {
	fc := startFakeController(t, false)
	cs := startChunkServer(t, fc.server.Addr().String())
	if err := cs.Deregister(context.Background()); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
}

func TestRemoveThroughAdminAPI(t *testing.T) {
	fc := startFakeController(t, false)
	cs := startChunkServer(t, fc.server.Addr().String())
	cs.Store().StoreChunk("f", 1, make([]byte, 100))
	cs.Store().StoreChunk("f", 2, make([]byte, 40))
	router := cs.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/f/2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /files/f/2: %d %s", rec.Code, rec.Body)
	}
	if got := cs.Store().AvailableSpace(); got != helper.CHUNK_SERVER_QUOTA-100 {
		t.Fatalf("AvailableSpace after chunk removal = %d", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/f/2", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second DELETE /files/f/2: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/f/zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("DELETE /files/f/zero: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/f", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /files/f: %d %s", rec.Code, rec.Body)
	}
	if got := cs.Store().AvailableSpace(); got != helper.CHUNK_SERVER_QUOTA {
		t.Fatalf("AvailableSpace after file removal = %d", got)
	}

	// the next major heartbeat reports the freed space
	eventually(t, 5*time.Second, func() bool {
		received := fc.received()
		for i := len(received) - 1; i >= 0; i-- {
			if hb, ok := received[i].(*models.MajorHeartbeat); ok {
				return hb.AvailableSpace == helper.CHUNK_SERVER_QUOTA && len(hb.Files) == 0
			}
		}
		return false
	})
}
