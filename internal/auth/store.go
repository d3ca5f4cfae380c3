// Package auth checks the client_id/client_secret pair a participant
// presents against the configured credentials.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/dkeye/podcast/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidClientID    = errors.New("invalid client id")
	ErrInvalidSecret      = errors.New("invalid client secret")
)

type Store struct {
	secrets map[domain.ParticipantID][]byte
}

// NewStore parses the configured id -> secret map. Ids must be decimal u32.
func NewStore(credentials map[string]string) (*Store, error) {
	s := &Store{secrets: make(map[domain.ParticipantID][]byte, len(credentials))}
	for raw, secret := range credentials {
		id, err := domain.ParseParticipantID(raw)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		if secret == "" {
			return nil, fmt.Errorf("credentials: empty secret for client %s", id)
		}
		s.secrets[id] = []byte(secret)
	}
	if len(s.secrets) == 0 {
		log.Warn().Str("module", "auth").Msg("no credentials configured, every request will be rejected")
	}
	return s, nil
}

// Verify authenticates one request. The secret compare runs in constant time.
func (s *Store) Verify(clientID, secret string) (domain.ParticipantID, error) {
	if clientID == "" || secret == "" {
		return 0, ErrMissingCredentials
	}
	id, err := domain.ParseParticipantID(clientID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidClientID, err)
	}
	want, ok := s.secrets[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidClientID, id)
	}
	if subtle.ConstantTimeCompare(want, []byte(secret)) != 1 {
		return 0, ErrInvalidSecret
	}
	return id, nil
}

// Known reports whether id has credentials. Used to re-validate ids carried
// in a session cookie.
func (s *Store) Known(id domain.ParticipantID) bool {
	_, ok := s.secrets[id]
	return ok
}
