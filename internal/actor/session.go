package actor

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound indicates the token does not map to a live session.
var ErrSessionNotFound = errors.New("actor: session not found")

// SessionStore maps opaque bearer tokens to actors in Redis. Sessions are
// written by the trusted identity layer; the ledger only resolves them.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// Issue stores the actor under a freshly generated token.
func (s *SessionStore) Issue(ctx context.Context, a Actor) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("actor: session store not initialised")
	}
	if !a.Valid() {
		return "", errors.New("actor: cannot issue session for invalid actor")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, redisKey(token), data, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the actor bound to token.
func (s *SessionStore) Resolve(ctx context.Context, token string) (Actor, error) {
	if s == nil || s.client == nil {
		return Actor{}, errors.New("actor: session store not initialised")
	}
	if token == "" {
		return Actor{}, ErrSessionNotFound
	}
	payload, err := s.client.Get(ctx, redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Actor{}, ErrSessionNotFound
		}
		return Actor{}, err
	}
	var a Actor
	if err := json.Unmarshal(payload, &a); err != nil {
		return Actor{}, err
	}
	return a, nil
}

// Revoke deletes the session bound to token.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func redisKey(token string) string {
	return "stewardship:session:" + token
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
