// Package crypto provides cryptographic utilities for join token hashing.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// joinTokenHashCache caches HashJoinToken results. Tokens are looked up on
// every join attempt and scrypt is deliberately slow, so computed hashes
// are cached (bounded by the number of live sessions).
var joinTokenHashCache sync.Map

// Scrypt parameters. N=16384 (2^14), r=8, p=1 are recommended for
// interactive logins.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	joinTokenSalt = "watchroom-join-token"
)

// HashWithScrypt hashes an input string using scrypt with the given salt.
// The salt is lowercased before use. Returns hex-encoded hash.
func HashWithScrypt(input, salt string) (string, error) {
	saltBytes := []byte(strings.ToLower(salt))
	dk, err := scrypt.Key([]byte(input), saltBytes, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return hex.EncodeToString(dk), nil
}

// HashJoinToken hashes a session join token for index lookup. The token is
// normalized (lowercase, trim) so shared keys survive copy/paste mangling.
func HashJoinToken(joinToken string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(joinToken))

	if cached, ok := joinTokenHashCache.Load(normalized); ok {
		return cached.(string), nil
	}

	hash, err := HashWithScrypt(normalized, joinTokenSalt)
	if err != nil {
		return "", err
	}

	joinTokenHashCache.Store(normalized, hash)
	return hash, nil
}
