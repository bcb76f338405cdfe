package ingest

// ChunkRange is one planned slice of a job's data rows, [StartRow, EndRow).
type ChunkRange struct {
	SequenceNumber int
	StartRow       int64
	EndRow         int64
}

// SplitRows deterministically partitions [0, totalRows) into ranges of at
// most chunkSize rows with monotonically increasing sequence numbers. A zero
// or negative chunkSize falls back to one chunk spanning the whole file.
func SplitRows(totalRows int64, chunkSize int64) []ChunkRange {
	if totalRows <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = totalRows
	}
	out := make([]ChunkRange, 0, (totalRows+chunkSize-1)/chunkSize)
	seq := 0
	for start := int64(0); start < totalRows; start += chunkSize {
		end := start + chunkSize
		if end > totalRows {
			end = totalRows
		}
		out = append(out, ChunkRange{SequenceNumber: seq, StartRow: start, EndRow: end})
		seq++
	}
	return out
}
