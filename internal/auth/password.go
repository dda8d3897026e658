package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Operator passwords are stored as Argon2id PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>
//
// The cost parameters travel with each stored hash, so raising them here
// only affects operators created or changed afterwards.
const (
	operatorHashTime    = 3
	operatorHashMemory  = 64 * 1024 // KiB
	operatorHashThreads = 1
	operatorHashKeyLen  = 32
	operatorHashSaltLen = 16
)

var b64 = base64.RawStdEncoding

// operatorHash is a decoded stored operator password.
type operatorHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (h operatorHash) derive(password string) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key))) //nolint:gosec // G115: key length fits uint32
}

func (h operatorHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads, b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

// HashPassword derives the stored form of a new operator password.
//
// Returns:
//   - string: PHC-encoded Argon2id hash with a fresh random salt
//   - error: ErrWeakPassword when the password is under MinPasswordLength
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w: operator passwords need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	h := operatorHash{
		time:    operatorHashTime,
		memory:  operatorHashMemory,
		threads: operatorHashThreads,
		salt:    make([]byte, operatorHashSaltLen),
		key:     make([]byte, operatorHashKeyLen),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("operator password salt: %w", err)
	}
	h.key = h.derive(password)
	return h.String(), nil
}

// VerifyPassword reports whether password matches an operator's stored hash.
// A stored value that does not parse is ErrInvalidHash, never a mismatch.
func VerifyPassword(password, stored string) (bool, error) {
	h, err := parseOperatorHash(stored)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.key, h.derive(password)) == 1, nil
}

func parseOperatorHash(stored string) (operatorHash, error) {
	var h operatorHash
	bad := func(format string, args ...any) (operatorHash, error) {
		return operatorHash{}, fmt.Errorf("%w: %s", ErrInvalidHash, fmt.Sprintf(format, args...))
	}

	rest, ok := strings.CutPrefix(stored, "$")
	if !ok {
		return bad("stored operator password is not a PHC string")
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 5 { //nolint:mnd // algorithm, version, params, salt, key
		return bad("want 5 PHC fields, got %d", len(fields))
	}
	if fields[0] != "argon2id" {
		return bad("algorithm %q", fields[0])
	}

	var version int
	if _, err := fmt.Sscanf(fields[1], "v=%d", &version); err != nil || version != argon2.Version {
		return bad("argon2 version %q", fields[1])
	}
	if _, err := fmt.Sscanf(fields[2], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return bad("cost parameters %q", fields[2])
	}
	if h.time == 0 || h.threads == 0 {
		return bad("zero cost in %q", fields[2])
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[3]); err != nil || len(h.salt) == 0 {
		return bad("salt %q", fields[3])
	}
	if h.key, err = b64.DecodeString(fields[4]); err != nil || len(h.key) == 0 {
		return bad("key %q", fields[4])
	}
	return h, nil
}
