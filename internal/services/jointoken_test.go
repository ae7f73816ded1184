package services

import (
	"regexp"
	"testing"
)

type tokenSet map[string]bool

func (s tokenSet) JoinTokenExists(token string) bool { return s[token] }

func TestJoinTokenService_Generate(t *testing.T) {
	service := NewJoinTokenService(tokenSet{})

	token, err := service.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{1,2}$`)
	if !pattern.MatchString(token) {
		t.Errorf("Generate() = %q, want word-word-number format", token)
	}
}

func TestJoinTokenService_GenerateRetriesOnCollision(t *testing.T) {
	// Claim nothing; the first attempt must succeed. Then claim that token
	// and verify the next call returns something else.
	claimed := tokenSet{}
	service := NewJoinTokenService(claimed)

	first, err := service.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	claimed[first] = true

	for i := 0; i < 20; i++ {
		token, err := service.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if token == first {
			t.Fatalf("Generate() returned claimed token %q", token)
		}
		claimed[token] = true
	}
}
