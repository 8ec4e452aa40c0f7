package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var errBadHash = errors.New("invalid argon2id hash")

type hashParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLen     uint32
	keyLen      uint32
}

var defaultParams = hashParams{
	memory:      64 * 1024,
	iterations:  3,
	parallelism: 2,
	saltLen:     16,
	keyLen:      32,
}

func HashPassword(plaintext string) (string, error) {
	return hashWithParams(plaintext, defaultParams)
}

func VerifyPassword(hash, plaintext string) (bool, error) {
	p, salt, key, err := decodeHash(hash)
	if err != nil {
		return false, err
	}

	other := argon2.IDKey([]byte(plaintext), salt, p.iterations, p.memory, p.parallelism, p.keyLen)
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// NeedsRehash reports whether hash was produced with weaker parameters than
// the current defaults.
func NeedsRehash(hash string) bool {
	p, _, _, err := decodeHash(hash)
	if err != nil {
		return true
	}
	return p.memory < defaultParams.memory ||
		p.iterations < defaultParams.iterations ||
		p.keyLen < defaultParams.keyLen
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// BurnVerify spends the same work as VerifyPassword against a throwaway hash.
// Logins for unknown users call it so response time does not reveal whether
// the account exists.
func BurnVerify(plaintext string) {
	dummyOnce.Do(func() {
		h, err := HashPassword("loginguard-dummy-password")
		if err == nil {
			dummyHash = h
		}
	})
	if dummyHash != "" {
		_, _ = VerifyPassword(dummyHash, plaintext)
	}
}

func hashWithParams(plaintext string, p hashParams) (string, error) {
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.iterations, p.memory, p.parallelism, p.keyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.memory,
		p.iterations,
		p.parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

func decodeHash(hash string) (hashParams, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return hashParams{}, nil, nil, errBadHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return hashParams{}, nil, nil, fmt.Errorf("%w: unsupported version %q", errBadHash, parts[2])
	}

	var p hashParams
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return hashParams{}, nil, nil, fmt.Errorf("%w: params", errBadHash)
		}
		bits := 32
		if k == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			return hashParams{}, nil, nil, fmt.Errorf("%w: param %s", errBadHash, k)
		}
		switch k {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.iterations = uint32(n)
		case "p":
			p.parallelism = uint8(n)
		default:
			return hashParams{}, nil, nil, fmt.Errorf("%w: unknown param %s", errBadHash, k)
		}
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return hashParams{}, nil, nil, fmt.Errorf("%w: salt", errBadHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return hashParams{}, nil, nil, fmt.Errorf("%w: key", errBadHash)
	}
	if len(salt) == 0 || len(key) == 0 {
		return hashParams{}, nil, nil, fmt.Errorf("%w: empty salt or key", errBadHash)
	}
	p.saltLen = uint32(len(salt))
	p.keyLen = uint32(len(key))

	return p, salt, key, nil
}
