package digest

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BLAKE3 of the empty input, from the reference test vectors.
const emptyHash = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"

func TestSumEmpty(t *testing.T) {
	assert.Equal(t, emptyHash, SumHex(nil))
}

func TestStreamingMatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte("blob-service"), 100_000)

	h := New()
	_, err := io.Copy(h, bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, Sum(data), FromHasher(h))
}

func TestNormalize(t *testing.T) {
	upper := strings.ToUpper(emptyHash)

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "canonical", in: emptyHash, want: emptyHash},
		{name: "upper case", in: upper, want: emptyHash},
		{name: "surrounding space", in: " " + emptyHash + "\n", want: emptyHash},
		{name: "too short", in: "deadbeef", wantErr: true},
		{name: "not hex", in: strings.Repeat("zz", 32), wantErr: true},
		{name: "path traversal", in: "../../" + emptyHash[6:], wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHash)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqualHex(t *testing.T) {
	sum := SumHex([]byte("x"))
	h := Sum([]byte("x"))

	assert.True(t, EqualHex(h, sum))
	assert.True(t, EqualHex(h, strings.ToUpper(sum)))
	assert.False(t, EqualHex(h, emptyHash))
	assert.False(t, EqualHex(h, "nope"))
}
