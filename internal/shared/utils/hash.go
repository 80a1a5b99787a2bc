package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256  HashAlgorithm = "sha256"
	BLAKE2b HashAlgorithm = "blake2b"
)

// Hasher digests module images
type Hasher struct {
	algorithm HashAlgorithm
}

func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns a BLAKE2b-256 hasher
func DefaultHasher() *Hasher {
	return NewHasher(BLAKE2b)
}

func (h *Hasher) new() hash.Hash {
	if h.algorithm == SHA256 {
		return sha256.New()
	}
	d, _ := blake2b.New256(nil)
	return d
}

// Hash returns the hex digest of data
func (h *Hasher) Hash(data []byte) string {
	d := h.new()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

func (h *Hasher) Algorithm() HashAlgorithm { return h.algorithm }

// Short trims a digest for display
func Short(digest string) string {
	if len(digest) < 12 {
		return digest
	}
	return digest[:12]
}
