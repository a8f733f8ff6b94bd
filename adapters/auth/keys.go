package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/artpar/modhost/core/module"
	"golang.org/x/crypto/bcrypt"
)

// APIKey is a configured key. Clients present "<name>.<secret>"; only the
// bcrypt hash of the secret is stored.
type APIKey struct {
	Name string
	Role string
	Hash string
}

// KeyStore authenticates API keys.
type KeyStore struct {
	keys map[string]APIKey
}

// NewKeyStore creates a key store. Key names must be unique and must not
// contain a dot.
func NewKeyStore(keys []APIKey) (*KeyStore, error) {
	s := &KeyStore{keys: make(map[string]APIKey, len(keys))}
	for _, k := range keys {
		if k.Name == "" || strings.Contains(k.Name, ".") {
			return nil, fmt.Errorf("api key name %q must be non-empty and contain no dot", k.Name)
		}
		if _, dup := s.keys[k.Name]; dup {
			return nil, fmt.Errorf("duplicate api key name %q", k.Name)
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("api key %q: invalid bcrypt hash: %w", k.Name, err)
		}
		s.keys[k.Name] = k
	}
	return s, nil
}

// Authenticate returns the user for a presented key.
func (s *KeyStore) Authenticate(presented string) (*module.User, bool) {
	name, secret, ok := strings.Cut(presented, ".")
	if !ok {
		return nil, false
	}
	k, ok := s.keys[name]
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(secret)) != nil {
		return nil, false
	}
	return &module.User{ID: "key:" + k.Name, Name: k.Name, Role: k.Role}, true
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	return len(s.keys)
}

// GenerateKey creates a new key for name. It returns the key to hand to
// the client and the bcrypt hash to put in the configuration.
func GenerateKey(name string, cost int) (key, hash string, err error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	secret := hex.EncodeToString(b)

	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", "", fmt.Errorf("hash key: %w", err)
	}
	return name + "." + secret, string(h), nil
}
