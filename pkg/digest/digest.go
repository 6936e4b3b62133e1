// Package digest computes the canonical hex fingerprints submitted to the
// proof authority. Two algorithms are supported, keccak256 and sha256, and the
// caller always names the one it wants.
package digest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
)

// Algorithm names a hash function. The value is recorded verbatim in
// attestation metadata so verification can recompute with the same one.
type Algorithm string

const (
	Keccak256Algorithm Algorithm = "keccak256"
	SHA256Algorithm    Algorithm = "sha256"
)

// DefaultAlgorithm is used by the attestation path when none is given.
const DefaultAlgorithm = Keccak256Algorithm

// Size is the byte length of every supported digest.
const Size = 32

// Digest is a lowercase, unprefixed hex encoding of a hash.
type Digest string

var (
	// ErrInvalidInput is returned when the value to hash is neither bytes nor text.
	ErrInvalidInput = xerrors.New(xerrors.CodeInvalidInput, "digest input must be bytes or text")
	// ErrUnsupportedAlgorithm shares the invalid-input code so errors.Is on
	// ErrInvalidInput matches both.
	ErrUnsupportedAlgorithm = xerrors.New(xerrors.CodeInvalidInput, "unsupported hash algorithm")
)

// ParseAlgorithm maps a configured or user supplied name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case Keccak256Algorithm:
		return Keccak256Algorithm, nil
	case SHA256Algorithm:
		return SHA256Algorithm, nil
	default:
		return "", unsupported(name)
	}
}

// Supported reports whether alg is one of the known algorithms.
func (a Algorithm) Supported() bool {
	return a == Keccak256Algorithm || a == SHA256Algorithm
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case Keccak256Algorithm:
		return crypto.NewKeccakState(), nil
	case SHA256Algorithm:
		return sha256.New(), nil
	default:
		return nil, unsupported(string(a))
	}
}

func unsupported(name string) error {
	return xerrors.Wrap(xerrors.CodeInvalidInput, ErrUnsupportedAlgorithm, fmt.Sprintf("unsupported hash algorithm %q", name))
}

// Bytes hashes data with alg.
func Bytes(data []byte, alg Algorithm) (Digest, error) {
	switch alg {
	case Keccak256Algorithm:
		return Keccak256(data), nil
	case SHA256Algorithm:
		return SHA256(data), nil
	default:
		return "", unsupported(string(alg))
	}
}

// String hashes the UTF-8 bytes of s with alg.
func String(s string, alg Algorithm) (Digest, error) {
	return Bytes([]byte(s), alg)
}

// Reader streams r through alg without buffering the whole input.
func Reader(r io.Reader, alg Algorithm) (Digest, error) {
	h, err := alg.newHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read digest input: %w", err)
	}
	return encode(h.Sum(nil)), nil
}

// Compute hashes any byte-like or text-like value. Other types fail with
// ErrInvalidInput.
func Compute(input any, alg Algorithm) (Digest, error) {
	switch v := input.(type) {
	case []byte:
		return Bytes(v, alg)
	case json.RawMessage:
		return Bytes(v, alg)
	case string:
		return String(v, alg)
	case io.Reader:
		return Reader(v, alg)
	default:
		return "", xerrors.Wrap(xerrors.CodeInvalidInput, ErrInvalidInput, fmt.Sprintf("cannot hash value of type %T", input))
	}
}

// Keccak256 returns the legacy (Ethereum) keccak256 digest of data.
func Keccak256(data []byte) Digest {
	return encode(crypto.Keccak256(data))
}

// Keccak256String hashes the UTF-8 bytes of s with keccak256.
func Keccak256String(s string) Digest {
	return Keccak256([]byte(s))
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) Digest {
	sum := sha256.Sum256(data)
	return encode(sum[:])
}

// SHA256String hashes the UTF-8 bytes of s with SHA-256.
func SHA256String(s string) Digest {
	return SHA256([]byte(s))
}

func encode(sum []byte) Digest {
	return Digest(common.Bytes2Hex(sum))
}

// Parse validates that s has the shape of a digest: 64 lowercase hex
// characters without a 0x prefix. No normalisation is applied.
func Parse(s string) (Digest, error) {
	if len(s) != Size*2 {
		return "", xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf("digest must be %d hex characters, got %d", Size*2, len(s)))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return "", xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf("digest contains non lowercase-hex character %q at %d", c, i))
		}
	}
	return Digest(s), nil
}

// IsHex32 reports whether s is exactly 32 bytes of hex in either case. The
// authority's data-type tag uses this shape.
func IsHex32(s string) bool {
	if len(s) != Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return string(d)
}

// Bytes decodes the digest. Malformed hex yields nil.
func (d Digest) Bytes() []byte {
	if !IsHex32(string(d)) {
		return nil
	}
	return common.FromHex(string(d))
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == ""
}

// Equal compares two digests by exact string. Empty digests never match.
func (d Digest) Equal(other Digest) bool {
	return d != "" && d == other
}
