package models

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/sutd_chunkdfs/helper"
)

func TestEncodeUploadLayout(t *testing.T) {
	upload := &Upload{
		FileName:    "a.txt",
		ChunkNumber: 2,
		TotalChunks: 3,
		Chain:       []string{"10.0.0.2:7000"},
		Payload:     []byte("xyz"),
	}
	data, err := Encode(upload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if got := binary.BigEndian.Uint32(data[:4]); got != uint32(UPLOAD) {
		t.Fatalf("type code = %d, want %d", got, UPLOAD)
	}
	if got := binary.BigEndian.Uint32(data[4:8]); got != 5 {
		t.Fatalf("file name length = %d, want 5", got)
	}
	if string(data[8:13]) != "a.txt" {
		t.Fatalf("file name = %q", data[8:13])
	}
	if !bytes.HasSuffix(data, []byte{0, 0, 0, 3, 'x', 'y', 'z'}) {
		t.Fatalf("payload not length-prefixed at the end: %v", data[len(data)-7:])
	}
}

func TestDecodeUploadKeepsChain(t *testing.T) {
	want := &Upload{
		FileName:    "photo.png",
		ChunkNumber: 1,
		TotalChunks: 1,
		Chain:       []string{"b:1", "c:2"},
		Payload:     []byte{0, 1, 2, 3},
	}
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := msg.(*Upload)
	if !ok {
		t.Fatalf("Decode returned %T, want *Upload", msg)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeMajorHeartbeatFileMap(t *testing.T) {
	want := &MajorHeartbeat{
		Identity:        "127.0.0.1:9001",
		CorruptFound:    true,
		CorruptedChunks: []ChunkRef{{FileName: "a", ChunkNumber: 3}},
		AvailableSpace:  868928,
		Files:           map[string][]int{"a": {1, 2, 3}, "b": {1}},
	}
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(msg, want) {
		t.Fatalf("got %+v, want %+v", msg, want)
	}
}

func TestStatusIsSingleByte(t *testing.T) {
	data, err := Encode(&DeregisterResponse{Status: FAILURE})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 5 || data[4] != byte(FAILURE) {
		t.Fatalf("unexpected encoding %v", data)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data := []byte{0, 0, 0, 99}
	if _, err := Decode(data); !errors.Is(err, helper.ErrUnknownMessage) {
		t.Fatalf("Decode unknown type: err = %v, want ErrUnknownMessage", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(&DownloadRequest{Client: "c:1", FileName: "file.bin"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(data[:len(data)-3]); err == nil {
		t.Fatal("Decode of truncated payload succeeded")
	}
	if _, err := Decode([]byte{0, 0}); err == nil {
		t.Fatal("Decode of short type code succeeded")
	}
}

func TestDecodeRejectsOversizedCollection(t *testing.T) {
	w := &writer{}
	w.int32(int32(UPLOAD_RESPONSE))
	w.status(SUCCESS)
	w.int32(1 << 30)
	if _, err := Decode(w.buf.Bytes()); err == nil {
		t.Fatal("Decode accepted an impossible list size")
	}
}

func TestChunkRefString(t *testing.T) {
	ref := ChunkRef{FileName: "notes.txt", ChunkNumber: 4}
	if ref.String() != "notes.txt_chunk4" {
		t.Fatalf("String() = %q", ref.String())
	}
}
