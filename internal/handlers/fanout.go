package handlers

import "github.com/rjoudeh/duewatch/internal/domain"

// DefaultChunkSize bounds how many tasks a single fan-out chunk carries.
const DefaultChunkSize = 50

// Chunk partitions tasks into ordered slices of at most size elements.
// The returned chunks share backing storage with the input.
func Chunk(tasks []domain.TaskRef, size int) [][]domain.TaskRef {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(tasks) == 0 {
		return nil
	}
	chunks := make([][]domain.TaskRef, 0, (len(tasks)+size-1)/size)
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunks = append(chunks, tasks[start:end])
	}
	return chunks
}
