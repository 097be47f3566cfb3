package upstream

import (
	"context"
	"fmt"
	"sync"
)

// TokenProvider supplies the access token used for a store's upstream requests.
// Credential acquisition and refresh live outside this service.
type TokenProvider interface {
	AccessToken(ctx context.Context, storeID string) (string, error)
}

var _ TokenProvider = (*StaticTokens)(nil)

// StaticTokens serves tokens from a fixed store→token map.
type StaticTokens struct {
	tokens map[string]string
	mutex  sync.RWMutex
}

// NewStaticTokens creates a provider from a store→token map.
func NewStaticTokens(tokens map[string]string) *StaticTokens {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}

	return &StaticTokens{tokens: copied}
}

// AccessToken returns the token configured for storeID.
func (s *StaticTokens) AccessToken(_ context.Context, storeID string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	token, ok := s.tokens[storeID]
	if !ok || token == "" {
		return "", fmt.Errorf("%w: %s", ErrNoToken, storeID)
	}

	return token, nil
}

// Set replaces the token for storeID.
func (s *StaticTokens) Set(storeID, token string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tokens[storeID] = token
}

// Stores returns the IDs of every store with a configured token.
func (s *StaticTokens) Stores() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}

	return ids
}
