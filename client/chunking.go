package client

import (
	"sort"

	"github.com/sutd_chunkdfs/helper"
)

// SplitChunks cuts data into consecutive pieces of at most CHUNK_SIZE bytes.
// The pieces share data's backing array.
func SplitChunks(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, helper.ComputeNumberOfChunks(len(data)))
	for start := 0; start < len(data); start += helper.CHUNK_SIZE {
		end := min(start+helper.CHUNK_SIZE, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Reassemble concatenates parts in ascending chunk order and reports the
// numbers in 1..expected that have no part.
func Reassemble(parts map[int][]byte, expected int) ([]byte, []int) {
	numbers := make([]int, 0, len(parts))
	total := 0
	for n, part := range parts {
		numbers = append(numbers, n)
		total += len(part)
	}
	sort.Ints(numbers)

	data := make([]byte, 0, total)
	for _, n := range numbers {
		data = append(data, parts[n]...)
	}

	var missing []int
	for n := 1; n <= expected; n++ {
		if _, ok := parts[n]; !ok {
			missing = append(missing, n)
		}
	}
	return data, missing
}
