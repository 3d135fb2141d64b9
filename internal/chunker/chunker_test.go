package chunker

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartCount(t *testing.T) {
	c := NewChunker(50 * 1024 * 1024)

	tests := []struct {
		name string
		size int64
		want int
	}{
		{"zero", 0, 0},
		{"one byte", 1, 1},
		{"exactly one part", 50 * 1024 * 1024, 1},
		{"one byte over", 50*1024*1024 + 1, 2},
		{"150 MiB", 157286400, 3},
		{"exact multiple", 3 * 50 * 1024 * 1024, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.PartCount(tt.size))
		})
	}
}

func TestNextPartSlicesSequentially(t *testing.T) {
	c := NewChunker(10)
	data := []byte("0123456789abcdefghij-tail")
	reader := bytes.NewReader(data)

	var parts [][]byte
	for {
		part, err := c.NextPart(reader)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		parts = append(parts, part)
	}

	require.Len(t, parts, 3)
	assert.Equal(t, []byte("0123456789"), parts[0])
	assert.Equal(t, []byte("abcdefghij"), parts[1])
	assert.Equal(t, []byte("-tail"), parts[2], "final part may be short")

	// Reassembling the parts yields the original bytes.
	var assembled []byte
	for _, p := range parts {
		assembled = append(assembled, p...)
	}
	assert.Equal(t, data, assembled)
}

func TestNextPartExactMultiple(t *testing.T) {
	c := NewChunker(5)
	reader := bytes.NewReader([]byte("aaaaabbbbb"))

	p1, err := c.NextPart(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaa"), p1)

	p2, err := c.NextPart(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbbb"), p2)

	_, err = c.NextPart(reader)
	assert.Equal(t, io.EOF, err)
}

// brokenReader returns some bytes and then a non-EOF error, like a disk
// read failing mid-part.
type brokenReader struct{}

func (brokenReader) Read(p []byte) (int, error) {
	n := copy(p, []byte("par"))
	return n, errors.New("input/output error")
}

func TestNextPartPropagatesReadErrors(t *testing.T) {
	c := NewChunker(10)

	part, err := c.NextPart(brokenReader{})
	require.Error(t, err, "a mid-part read error must not produce a short part")
	assert.NotEqual(t, io.EOF, err)
	assert.Nil(t, part)
	assert.Contains(t, err.Error(), "input/output error")
}

func TestNextPartEmptyStream(t *testing.T) {
	c := NewChunker(5)
	_, err := c.NextPart(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestComputeHash(t *testing.T) {
	h1 := ComputeHash([]byte("hello"))
	h2 := ComputeHash([]byte("hello"))
	h3 := ComputeHash([]byte("world"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
	assert.True(t, VerifyHash([]byte("hello"), h1))
	assert.False(t, VerifyHash([]byte("world"), h1))
}
