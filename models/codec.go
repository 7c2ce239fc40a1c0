package models

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sutd_chunkdfs/helper"
)

/* =============================== Encoding =============================== */

// Encode marshals msg into a payload: type code first, then the fields in
// declaration order, all big-endian.
func Encode(msg Message) ([]byte, error) {
	w := &writer{}
	if msg == nil {
		return nil, helper.ErrUnknownMessage
	}
	w.int32(int32(msg.Type()))

	switch m := msg.(type) {
	case *RegisterRequest:
		w.string(m.Identity)
		w.bool(m.IsClient)
	case *RegisterResponse:
		w.status(m.Status)
		w.string(m.Info)
	case *DeregisterRequest:
		w.string(m.Identity)
	case *DeregisterResponse:
		w.status(m.Status)
	case *UploadRequest:
		w.string(m.Client)
		w.int64(m.FileSize)
		w.string(m.FileName)
	case *UploadResponse:
		w.status(m.Status)
		w.strings(m.ChunkServers)
	case *Upload:
		w.string(m.FileName)
		w.int32(int32(m.ChunkNumber))
		w.int32(int32(m.TotalChunks))
		w.strings(m.Chain)
		w.bytes(m.Payload)
	case *DownloadRequest:
		w.string(m.Client)
		w.string(m.FileName)
	case *DownloadResponse:
		w.status(m.Status)
		w.string(m.FileName)
		w.chunkMap(m.ChunkServers)
	case *DownloadChunkRequest:
		w.string(m.FileName)
		w.int32(int32(m.ChunkNumber))
	case *DownloadChunkResponse:
		w.string(m.FileName)
		w.int32(int32(m.ChunkNumber))
		w.bool(m.Success)
		w.bytes(m.Payload)
	case *MinorHeartbeat:
		w.string(m.Identity)
		w.bool(m.ChunksAdded)
		w.chunkRefs(m.AddedChunks)
		w.bool(m.CorruptFound)
		w.chunkRefs(m.CorruptedChunks)
	case *MajorHeartbeat:
		w.string(m.Identity)
		w.bool(m.CorruptFound)
		w.chunkRefs(m.CorruptedChunks)
		w.int64(m.AvailableSpace)
		w.chunkMap(m.Files)
	default:
		return nil, fmt.Errorf("%w: %T", helper.ErrUnknownMessage, msg)
	}
	return w.buf.Bytes(), nil
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *writer) int64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *writer) bool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *writer) status(s Status) {
	w.buf.WriteByte(byte(s))
}

func (w *writer) bytes(b []byte) {
	w.int32(int32(len(b)))
	w.buf.Write(b)
}

func (w *writer) string(s string) {
	w.int32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) strings(list []string) {
	w.int32(int32(len(list)))
	for _, s := range list {
		w.string(s)
	}
}

func (w *writer) ints(list []int) {
	w.int32(int32(len(list)))
	for _, v := range list {
		w.int32(int32(v))
	}
}

func (w *writer) chunkRefs(refs []ChunkRef) {
	w.int32(int32(len(refs)))
	for _, ref := range refs {
		w.string(ref.FileName)
		w.int32(int32(ref.ChunkNumber))
	}
}

func (w *writer) chunkMap(m map[string][]int) {
	w.int32(int32(len(m)))
	for _, key := range sortedKeys(m) {
		w.string(key)
		w.ints(m[key])
	}
}

/* =============================== Decoding =============================== */

// Decode is the single entry point turning a payload back into a message,
// keyed by its leading type code.
func Decode(data []byte) (Message, error) {
	r := &reader{data: data}
	msgType := MessageType(r.int32())
	if r.err != nil {
		return nil, fmt.Errorf("decode type code: %w", r.err)
	}

	var msg Message
	switch msgType {
	case REGISTER_REQUEST:
		msg = &RegisterRequest{Identity: r.string(), IsClient: r.bool()}
	case REGISTER_RESPONSE:
		msg = &RegisterResponse{Status: r.status(), Info: r.string()}
	case DEREGISTER_REQUEST:
		msg = &DeregisterRequest{Identity: r.string()}
	case DEREGISTER_RESPONSE:
		msg = &DeregisterResponse{Status: r.status()}
	case UPLOAD_REQUEST:
		msg = &UploadRequest{Client: r.string(), FileSize: r.int64(), FileName: r.string()}
	case UPLOAD_RESPONSE:
		msg = &UploadResponse{Status: r.status(), ChunkServers: r.strings()}
	case UPLOAD:
		msg = &Upload{
			FileName:    r.string(),
			ChunkNumber: int(r.int32()),
			TotalChunks: int(r.int32()),
			Chain:       r.strings(),
			Payload:     r.bytes(),
		}
	case DOWNLOAD_REQUEST:
		msg = &DownloadRequest{Client: r.string(), FileName: r.string()}
	case DOWNLOAD_RESPONSE:
		msg = &DownloadResponse{Status: r.status(), FileName: r.string(), ChunkServers: r.chunkMap()}
	case DOWNLOAD_CHUNK_REQUEST:
		msg = &DownloadChunkRequest{FileName: r.string(), ChunkNumber: int(r.int32())}
	case DOWNLOAD_CHUNK_RESPONSE:
		msg = &DownloadChunkResponse{
			FileName:    r.string(),
			ChunkNumber: int(r.int32()),
			Success:     r.bool(),
			Payload:     r.bytes(),
		}
	case MINOR_HEARTBEAT:
		msg = &MinorHeartbeat{
			Identity:        r.string(),
			ChunksAdded:     r.bool(),
			AddedChunks:     r.chunkRefs(),
			CorruptFound:    r.bool(),
			CorruptedChunks: r.chunkRefs(),
		}
	case MAJOR_HEARTBEAT:
		msg = &MajorHeartbeat{
			Identity:        r.string(),
			CorruptFound:    r.bool(),
			CorruptedChunks: r.chunkRefs(),
			AvailableSpace:  r.int64(),
			Files:           r.chunkMap(),
		}
	default:
		return nil, fmt.Errorf("%w: %d", helper.ErrUnknownMessage, int32(msgType))
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", msgType, r.err)
	}
	return msg, nil
}

var errNegativeLength = errors.New("negative length prefix")

// reader remembers the first error so field reads can be chained; every read
// after a failure returns the zero value.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.err = errNegativeLength
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) int32() int32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *reader) int64() int64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *reader) bool() bool {
	b := r.next(1)
	return b != nil && b[0] != 0
}

func (r *reader) status() Status {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return Status(b[0])
}

func (r *reader) bytes() []byte {
	n := int(r.int32())
	b := r.next(n)
	if b == nil {
		return []byte{}
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) string() string {
	n := int(r.int32())
	return string(r.next(n))
}

// count reads a collection size and rejects values that cannot possibly fit
// in the remaining bytes, so a corrupt prefix cannot trigger a huge allocation.
func (r *reader) count() int {
	n := int(r.int32())
	if r.err == nil && (n < 0 || n > len(r.data)-r.off) {
		r.err = fmt.Errorf("collection size %d out of range", n)
	}
	if r.err != nil {
		return 0
	}
	return n
}

func (r *reader) strings() []string {
	n := r.count()
	list := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		list = append(list, r.string())
	}
	return list
}

func (r *reader) ints() []int {
	n := r.count()
	list := make([]int, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		list = append(list, int(r.int32()))
	}
	return list
}

func (r *reader) chunkRefs() []ChunkRef {
	n := r.count()
	refs := make([]ChunkRef, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		refs = append(refs, ChunkRef{FileName: r.string(), ChunkNumber: int(r.int32())})
	}
	return refs
}

func (r *reader) chunkMap() map[string][]int {
	n := r.count()
	m := make(map[string][]int, n)
	for i := 0; i < n && r.err == nil; i++ {
		key := r.string()
		m[key] = r.ints()
	}
	return m
}
