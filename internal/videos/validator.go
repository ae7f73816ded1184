// Package videos validates raw video references before they enter a
// session's queue. The engine never enqueues anything that does not
// resolve to a recognized video identifier.
package videos

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnrecognizedRef is returned when a reference does not resolve to a
// known video identifier.
var ErrUnrecognizedRef = errors.New("unrecognized video reference")

// videoIDRe matches a bare YouTube video id: 11 characters of the id
// alphabet.
var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Validator resolves video references (bare ids, watch URLs, short URLs,
// embed URLs) to canonical video ids.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRef resolves ref to a canonical video id, or returns
// ErrUnrecognizedRef. Accepted forms:
//
//	dQw4w9WgXcQ
//	https://www.youtube.com/watch?v=dQw4w9WgXcQ
//	https://youtu.be/dQw4w9WgXcQ
//	https://www.youtube.com/embed/dQw4w9WgXcQ
func (v *Validator) ValidateRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrUnrecognizedRef
	}

	if videoIDRe.MatchString(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", ErrUnrecognizedRef
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var id string
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.TrimPrefix(u.Path, "/shorts/")
		}
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	}

	id = strings.TrimSuffix(id, "/")
	if !videoIDRe.MatchString(id) {
		return "", ErrUnrecognizedRef
	}
	return id, nil
}
