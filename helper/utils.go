package helper

import (
	"fmt"
	"net"
	"strconv"

	uuid "github.com/satori/go.uuid"
)

// NewSessionID tags one upload or download so its log lines can be correlated.
func NewSessionID() string {
	return uuid.NewV4().String()
}

func TruncateOutput(bytestream []byte) string {
	if len(bytestream) <= 10 {
		return string(bytestream)
	}
	return fmt.Sprintf("%s... and %d more characters", string(bytestream[:10]), len(bytestream)-10)
}

func ComputeNumberOfChunks(size int) int {
	chunks := size / CHUNK_SIZE
	if size%CHUNK_SIZE > 0 {
		chunks++
	}
	return chunks
}

func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
