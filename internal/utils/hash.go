package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// FileHash calculates the hex encoded SHA-256 of a file, streaming it in chunks
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// BytesHash returns the hex encoded SHA-256 of b
func BytesHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashingReader hashes everything read through it
type HashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha256.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

// Sum returns the hex SHA-256 of the bytes read so far
func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

// Size returns the number of bytes read so far
func (hr *HashingReader) Size() int64 {
	return hr.n
}
