package nuget

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
)

// HashAlgorithm is the name reported alongside every package hash.
const HashAlgorithm = "SHA512"

const hashBufferSize = 32 * 1024

// ComputeHash returns the SHA-512 digest and byte length of everything read
// from r. Input is streamed through a fixed-size buffer.
func ComputeHash(r io.Reader) ([]byte, int64, error) {
	h := sha512.New()
	buf := make([]byte, hashBufferSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return nil, n, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return h.Sum(nil), n, nil
}

// EncodeHash returns the standard base64 encoding of a digest.
func EncodeHash(digest []byte) string {
	return base64.StdEncoding.EncodeToString(digest)
}

// HashBytes is ComputeHash for an in-memory archive, already encoded.
func HashBytes(b []byte) (string, int64) {
	sum := sha512.Sum512(b)
	return EncodeHash(sum[:]), int64(len(b))
}
