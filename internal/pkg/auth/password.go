package auth

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Legacy werkzeug hashes look like "pbkdf2:sha256:600000$salt$hex" or "scrypt:32768:8:1$salt$hex".
const (
	legacyPBKDF2Prefix = "pbkdf2:"
	legacyScryptPrefix = "scrypt:"

	defaultPBKDF2Iterations = 260000
)

var errUnsupportedHash = errors.New("unsupported password hash")

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a stored hash. Besides bcrypt it
// accepts the werkzeug pbkdf2 and scrypt formats of the legacy registry.
func CheckPasswordHash(password, hash string) bool {
	switch {
	case strings.HasPrefix(hash, legacyPBKDF2Prefix), strings.HasPrefix(hash, legacyScryptPrefix):
		ok, err := checkLegacyHash(password, hash)
		return err == nil && ok
	default:
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
}

// IsLegacyHash reports whether hash uses a werkzeug format and should be upgraded to bcrypt.
func IsLegacyHash(hash string) bool {
	return strings.HasPrefix(hash, legacyPBKDF2Prefix) || strings.HasPrefix(hash, legacyScryptPrefix)
}

// IsHashed reports whether value already looks like a password hash rather than plaintext.
func IsHashed(value string) bool {
	if IsLegacyHash(value) {
		return true
	}
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}

func checkLegacyHash(password, stored string) (bool, error) {
	parts := strings.SplitN(stored, "$", 3)
	if len(parts) != 3 {
		return false, errUnsupportedHash
	}
	method, salt, want := parts[0], parts[1], parts[2]

	expected, err := hex.DecodeString(want)
	if err != nil {
		return false, errUnsupportedHash
	}

	var got []byte
	args := strings.Split(method, ":")
	switch args[0] {
	case "pbkdf2":
		hashName := "sha256"
		if len(args) > 1 {
			hashName = args[1]
		}
		iterations := defaultPBKDF2Iterations
		if len(args) > 2 {
			if iterations, err = strconv.Atoi(args[2]); err != nil {
				return false, errUnsupportedHash
			}
		}
		h, err := hashFunc(hashName)
		if err != nil {
			return false, err
		}
		got = pbkdf2.Key([]byte(password), []byte(salt), iterations, len(expected), h)
	case "scrypt":
		if len(args) != 4 {
			return false, errUnsupportedHash
		}
		n, errN := strconv.Atoi(args[1])
		r, errR := strconv.Atoi(args[2])
		p, errP := strconv.Atoi(args[3])
		if errN != nil || errR != nil || errP != nil {
			return false, errUnsupportedHash
		}
		got, err = scrypt.Key([]byte(password), []byte(salt), n, r, p, len(expected))
		if err != nil {
			return false, err
		}
	default:
		return false, errUnsupportedHash
	}

	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}

func hashFunc(name string) (func() hash.Hash, error) {
	switch name {
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, errUnsupportedHash
	}
}
