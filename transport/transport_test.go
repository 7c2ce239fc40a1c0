package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
)

func startServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	server, err := Listen("127.0.0.1:0", handler, zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go server.Serve(context.Background())
	t.Cleanup(func() { server.Close() })
	return server
}

func TestRequestReply(t *testing.T) {
	server := startServer(t, HandlerFunc(func(ctx context.Context, msg models.Message) models.Message {
		req, ok := msg.(*models.DownloadChunkRequest)
		if !ok {
			return nil
		}
		return &models.DownloadChunkResponse{
			FileName:    req.FileName,
			ChunkNumber: req.ChunkNumber,
			Success:     true,
			Payload:     []byte("hello"),
		}
	}))

	reply, err := Request(context.Background(), server.Addr().String(),
		&models.DownloadChunkRequest{FileName: "f", ChunkNumber: 7})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	resp, ok := reply.(*models.DownloadChunkResponse)
	if !ok {
		t.Fatalf("reply is %T", reply)
	}
	if !resp.Success || resp.ChunkNumber != 7 || string(resp.Payload) != "hello" {
		t.Fatalf("unexpected reply %+v", resp)
	}
}

func TestStreamOfMessagesOnOneConnection(t *testing.T) {
	var (
		mu       sync.Mutex
		received []int
		done     = make(chan struct{})
	)
	server := startServer(t, HandlerFunc(func(ctx context.Context, msg models.Message) models.Message {
		upload := msg.(*models.Upload)
		mu.Lock()
		received = append(received, upload.ChunkNumber)
		if len(received) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	}))

	conn, err := Dial(context.Background(), server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := conn.Send(&models.Upload{FileName: "f", ChunkNumber: i, TotalChunks: 3}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	conn.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for uploads")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, n := range received {
		if n != i+1 {
			t.Fatalf("received out of order: %v", received)
		}
	}
}

func TestReceiveRejectsHugeFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], helper.MAX_FRAME_SIZE+1)
		client.Write(header[:])
	}()

	_, err := NewConn(server).Receive()
	if !errors.Is(err, helper.ErrFrameTooLarge) {
		t.Fatalf("Receive: err = %v, want ErrFrameTooLarge", err)
	}
}

func TestExchangeHonoursCancel(t *testing.T) {
	server := startServer(t, HandlerFunc(func(ctx context.Context, msg models.Message) models.Message {
		return nil // never answers
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Request(ctx, server.Addr().String(), &models.DownloadRequest{Client: "c", FileName: "f"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Request: err = %v, want deadline exceeded", err)
	}
}

func TestCloseStopsServe(t *testing.T) {
	server, err := Listen("127.0.0.1:0", HandlerFunc(func(context.Context, models.Message) models.Message { return nil }), zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background()) }()

	// an idle connection must not keep Close from returning
	conn, err := Dial(context.Background(), server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	server.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestSecondCloseWaitsForHandlers(t *testing.T) {
	var (
		mu       sync.Mutex
		finished bool
	)
	started := make(chan struct{})
	server, err := Listen("127.0.0.1:0", HandlerFunc(func(ctx context.Context, msg models.Message) models.Message {
		close(started)
		time.Sleep(300 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}), zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx)

	if err := Notify(context.Background(), server.Addr().String(), &models.DeregisterRequest{Identity: "a"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	// cancelling closes the server first, the explicit Close comes second
	cancel()
	time.Sleep(20 * time.Millisecond)
	server.Close()

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Fatal("Close returned while a connection goroutine was still running")
	}
}
