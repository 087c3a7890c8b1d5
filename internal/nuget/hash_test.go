package nuget

import (
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestComputeHash(t *testing.T) {
	data := []byte("package archive bytes")

	digest, size, err := ComputeHash(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}

	want := sha512.Sum512(data)
	if !bytes.Equal(digest, want[:]) {
		t.Error("digest does not match sha512")
	}

	if got := EncodeHash(digest); got != base64.StdEncoding.EncodeToString(want[:]) {
		t.Errorf("EncodeHash() = %q", got)
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10000)

	first, _, err := ComputeHash(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}
	second, _, err := ComputeHash(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("hash is not deterministic")
	}

	encoded, size := HashBytes(data)
	if encoded != EncodeHash(first) || size != int64(len(data)) {
		t.Error("HashBytes disagrees with ComputeHash")
	}
}

func TestComputeHashEmpty(t *testing.T) {
	_, size, err := ComputeHash(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}
	if size != 0 {
		t.Errorf("size = %d, want 0", size)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestComputeHashReadError(t *testing.T) {
	_, _, err := ComputeHash(failingReader{})
	if !errors.Is(err, ErrIO) {
		t.Errorf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected underlying cause, got %v", err)
	}
}
