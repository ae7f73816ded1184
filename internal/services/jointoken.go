package services

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
// Two words plus a number give 2048 × 2048 × 100 = 419 million combinations.
var wordlist = wordlists.English

// TokenChecker reports whether a join token is already claimed by a live
// session. The session store satisfies it.
type TokenChecker interface {
	JoinTokenExists(token string) bool
}

// JoinTokenService generates human-readable join tokens for session
// sharing. Tokens follow the pattern "word-word-number" (e.g.,
// "apple-river-42").
type JoinTokenService struct {
	checker TokenChecker
	rng     *rand.Rand
}

// NewJoinTokenService creates a JoinTokenService with its own random source.
func NewJoinTokenService(checker TokenChecker) *JoinTokenService {
	return &JoinTokenService{
		checker: checker,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate creates a join token not claimed by any live session, retrying
// on collisions. Returns an error if no free token is found after 100
// attempts.
func (s *JoinTokenService) Generate() (string, error) {
	maxAttempts := 100
	for i := 0; i < maxAttempts; i++ {
		word1 := wordlist[s.rng.Intn(len(wordlist))]
		word2 := wordlist[s.rng.Intn(len(wordlist))]
		num := s.rng.Intn(100)
		token := fmt.Sprintf("%s-%s-%d", word1, word2, num)

		if !s.checker.JoinTokenExists(token) {
			return token, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique token after %d attempts", maxAttempts)
}
