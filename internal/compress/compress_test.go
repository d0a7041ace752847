package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("policy_network/"), 256)

	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			block, err := Compress(data, tag)
			require.NoError(t, err)
			assert.Equal(t, tag, block.Tag)
			if tag != None {
				assert.Less(t, len(block.Data), len(data))
			}

			out, err := Decompress(block)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	data := []byte{0x01}

	block, err := Compress(data, Zstd)
	require.NoError(t, err)
	assert.Equal(t, None, block.Tag)

	out, err := Decompress(block)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, tag)

	_, err = ParseTag("brotli")
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestDecompressSizeMismatch(t *testing.T) {
	_, err := Decompress(Block{Tag: None, Size: 3, Data: []byte{1}})
	assert.Error(t, err)
}
