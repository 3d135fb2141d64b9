package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// DefaultPartSize is the fixed part size for chunked uploads (50 MiB).
const DefaultPartSize = int64(50) * 1024 * 1024

// Chunker slices a byte stream into fixed-size parts. Parts are produced
// strictly in order, one at a time, so memory use is bounded by one part
// regardless of file size.
type Chunker struct {
	partSize int64
}

// NewChunker creates a new chunker with the specified part size
func NewChunker(partSize int64) *Chunker {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &Chunker{
		partSize: partSize,
	}
}

// PartSize returns the configured part size in bytes
func (c *Chunker) PartSize() int64 {
	return c.partSize
}

// PartCount returns ceil(size / partSize), the number of parts a file of the
// given size will produce.
func (c *Chunker) PartCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + c.partSize - 1) / c.partSize)
}

// NextPart reads the next part from the reader. The final part may be
// shorter than the part size. Returns io.EOF once the stream is exhausted.
// A real read error is propagated even when some bytes were read first;
// a short part must only ever mean end of stream.
func (c *Chunker) NextPart(reader io.Reader) ([]byte, error) {
	buffer := make([]byte, c.partSize)
	n, err := io.ReadFull(reader, buffer)

	switch {
	case err == nil:
		return buffer, nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		if n > 0 {
			return buffer[:n], nil
		}
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("error reading part: %w", err)
	}
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies that data matches the expected hash
func VerifyHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
