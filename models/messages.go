package models

import (
	"fmt"
	"sort"
)

type MessageType int32

// Type codes are the first four bytes of every payload. 5 and 6 stay reserved
// for the status sentinels, 9 and 10 are unused.
const (
	REGISTER_REQUEST        MessageType = 1
	REGISTER_RESPONSE       MessageType = 2
	DEREGISTER_REQUEST      MessageType = 3
	DEREGISTER_RESPONSE     MessageType = 4
	DOWNLOAD_REQUEST        MessageType = 7
	DOWNLOAD_RESPONSE       MessageType = 8
	MINOR_HEARTBEAT         MessageType = 11
	MAJOR_HEARTBEAT         MessageType = 12
	UPLOAD_REQUEST          MessageType = 13
	UPLOAD_RESPONSE         MessageType = 14
	UPLOAD                  MessageType = 15
	DOWNLOAD_CHUNK_REQUEST  MessageType = 16
	DOWNLOAD_CHUNK_RESPONSE MessageType = 17
)

var messageNames = map[MessageType]string{
	REGISTER_REQUEST:        "REGISTER_REQUEST",
	REGISTER_RESPONSE:       "REGISTER_RESPONSE",
	DEREGISTER_REQUEST:      "DEREGISTER_REQUEST",
	DEREGISTER_RESPONSE:     "DEREGISTER_RESPONSE",
	DOWNLOAD_REQUEST:        "DOWNLOAD_REQUEST",
	DOWNLOAD_RESPONSE:       "DOWNLOAD_RESPONSE",
	MINOR_HEARTBEAT:         "MINOR_HEARTBEAT",
	MAJOR_HEARTBEAT:         "MAJOR_HEARTBEAT",
	UPLOAD_REQUEST:          "UPLOAD_REQUEST",
	UPLOAD_RESPONSE:         "UPLOAD_RESPONSE",
	UPLOAD:                  "UPLOAD",
	DOWNLOAD_CHUNK_REQUEST:  "DOWNLOAD_CHUNK_REQUEST",
	DOWNLOAD_CHUNK_RESPONSE: "DOWNLOAD_CHUNK_RESPONSE",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

type Status byte

const (
	SUCCESS Status = 5
	FAILURE Status = 6
)

func (s Status) String() string {
	switch s {
	case SUCCESS:
		return "SUCCESS"
	case FAILURE:
		return "FAILURE"
	}
	return fmt.Sprintf("STATUS(%d)", byte(s))
}

// Message is the closed set of everything that travels between nodes. Only
// the types in this file implement it.
type Message interface {
	Type() MessageType
	isMessage()
}

// ChunkRef names one stored chunk in heartbeats.
type ChunkRef struct {
	FileName    string
	ChunkNumber int
}

func (c ChunkRef) String() string {
	return fmt.Sprintf("%s_chunk%d", c.FileName, c.ChunkNumber)
}

/* =========== Registration ===========*/

type RegisterRequest struct {
	Identity string // host:port
	IsClient bool
}

type RegisterResponse struct {
	Status Status
	Info   string
}

type DeregisterRequest struct {
	Identity string
}

type DeregisterResponse struct {
	Status Status
}

/* =========== Upload ===========*/

type UploadRequest struct {
	Client   string
	FileSize int64
	FileName string
}

type UploadResponse struct {
	Status       Status
	ChunkServers []string // replica set, entry 0 is contacted by the client
}

// Upload carries one chunk. Chain holds the hops still to visit after the
// receiver.
type Upload struct {
	FileName    string
	ChunkNumber int
	TotalChunks int
	Chain       []string
	Payload     []byte
}

/* =========== Download ===========*/

type DownloadRequest struct {
	Client   string
	FileName string
}

type DownloadResponse struct {
	Status       Status
	FileName     string
	ChunkServers map[string][]int // server -> chunk numbers to fetch from it
}

type DownloadChunkRequest struct {
	FileName    string
	ChunkNumber int
}

type DownloadChunkResponse struct {
	FileName    string
	ChunkNumber int
	Success     bool
	Payload     []byte
}

/* =========== Heartbeats ===========*/

type MinorHeartbeat struct {
	Identity        string
	ChunksAdded     bool
	AddedChunks     []ChunkRef
	CorruptFound    bool
	CorruptedChunks []ChunkRef
}

type MajorHeartbeat struct {
	Identity        string
	CorruptFound    bool
	CorruptedChunks []ChunkRef
	AvailableSpace  int64
	Files           map[string][]int
}

func (*RegisterRequest) Type() MessageType       { return REGISTER_REQUEST }
func (*RegisterResponse) Type() MessageType      { return REGISTER_RESPONSE }
func (*DeregisterRequest) Type() MessageType     { return DEREGISTER_REQUEST }
func (*DeregisterResponse) Type() MessageType    { return DEREGISTER_RESPONSE }
func (*UploadRequest) Type() MessageType         { return UPLOAD_REQUEST }
func (*UploadResponse) Type() MessageType        { return UPLOAD_RESPONSE }
func (*Upload) Type() MessageType                { return UPLOAD }
func (*DownloadRequest) Type() MessageType       { return DOWNLOAD_REQUEST }
func (*DownloadResponse) Type() MessageType      { return DOWNLOAD_RESPONSE }
func (*DownloadChunkRequest) Type() MessageType  { return DOWNLOAD_CHUNK_REQUEST }
func (*DownloadChunkResponse) Type() MessageType { return DOWNLOAD_CHUNK_RESPONSE }
func (*MinorHeartbeat) Type() MessageType        { return MINOR_HEARTBEAT }
func (*MajorHeartbeat) Type() MessageType        { return MAJOR_HEARTBEAT }

func (*RegisterRequest) isMessage()       {}
func (*RegisterResponse) isMessage()      {}
func (*DeregisterRequest) isMessage()     {}
func (*DeregisterResponse) isMessage()    {}
func (*UploadRequest) isMessage()         {}
func (*UploadResponse) isMessage()        {}
func (*Upload) isMessage()                {}
func (*DownloadRequest) isMessage()       {}
func (*DownloadResponse) isMessage()      {}
func (*DownloadChunkRequest) isMessage()  {}
func (*DownloadChunkResponse) isMessage() {}
func (*MinorHeartbeat) isMessage()        {}
func (*MajorHeartbeat) isMessage()        {}

// sortedKeys keeps map encodings deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
