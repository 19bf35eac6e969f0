package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/cashplace/escrow/internal/config"
)

const (
	argon2Version = argon2.Version
	saltLength    = 16
	keyLength     = 32
)

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// Argon2Params are the tunable argon2id cost parameters.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// ParamsFromConfig maps the configured minimum strength.
func ParamsFromConfig(cfg config.PasswordConfig) Argon2Params {
	params := Argon2Params{Time: cfg.Time, MemoryKiB: cfg.MemoryKiB, Threads: cfg.Threads}
	if params.Time == 0 {
		params.Time = 1
	}
	if params.Threads == 0 {
		params.Threads = 1
	}
	// argon2 requires at least 8KiB per lane.
	if params.MemoryKiB < 8*uint32(params.Threads) {
		params.MemoryKiB = 8 * uint32(params.Threads)
	}
	return params
}

// PasswordHasher hashes party passwords as argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes are still accepted by Verify but always report NeedsRehash.
type PasswordHasher struct {
	params Argon2Params
}

// NewPasswordHasher builds a hasher producing hashes at params strength.
func NewPasswordHasher(params Argon2Params) *PasswordHasher {
	return &PasswordHasher{params: params}
}

// Hash derives a fresh salted hash of secret.
func (h *PasswordHasher) Hash(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, keyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// an unparseable hash is an error.
func (h *PasswordHasher) Verify(encoded, secret string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
	}

	parsed, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(secret), parsed.salt, parsed.params.Time, parsed.params.MemoryKiB, parsed.params.Threads, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(key, parsed.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced below the configured
// strength (or by a legacy scheme) and should be replaced after a
// successful Verify.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	parsed, err := parseArgon2(encoded)
	if err != nil {
		return true
	}
	return parsed.version != argon2Version ||
		parsed.params.Time < h.params.Time ||
		parsed.params.MemoryKiB < h.params.MemoryKiB ||
		parsed.params.Threads < h.params.Threads ||
		len(parsed.key) < keyLength
}

type argon2Hash struct {
	version int
	params  Argon2Params
	salt    []byte
	key     []byte
}

func parseArgon2(encoded string) (*argon2Hash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, ErrMalformedHash
	}
	var out argon2Hash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrMalformedHash, err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &out.params.MemoryKiB, &out.params.Time, &out.params.Threads); err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrMalformedHash, err)
	}
	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrMalformedHash, err)
	}
	if len(out.key) == 0 || out.params.Threads == 0 {
		return nil, ErrMalformedHash
	}
	return &out, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}
