// Package redis provides an AliasStore on Redis, for teams that share one
// alias namespace across machines while every machine keeps its own object
// store. Objects themselves never live here; aliases are just name → id.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// AliasStore implements ports.AliasStore on a single Redis hash.
type AliasStore struct {
	client *backend.Client
	key    string
}

type Option func(*AliasStore)

// WithKey overrides the hash key holding the bindings.
func WithKey(key string) Option {
	return func(s *AliasStore) {
		s.key = key
	}
}

// New creates a new alias store with its own client.
func New(address, password string, db int, opts ...Option) *AliasStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new alias store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *AliasStore {
	store := &AliasStore{
		client: client,
		key:    "graft:aliases",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

var _ ports.AliasStore = (*AliasStore)(nil)

// SetAlias binds name to id, overwriting any previous binding.
func (s *AliasStore) SetAlias(ctx context.Context, name string, id domain.ID) error {
	if err := domain.ValidateAliasName(name); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, name, id.String()).Err(); err != nil {
		return fmt.Errorf("failed to set alias in redis: %w", err)
	}
	return nil
}

// GetAlias resolves a name.
func (s *AliasStore) GetAlias(ctx context.Context, name string) (domain.ID, error) {
	val, err := s.client.HGet(ctx, s.key, name).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.ID{}, fmt.Errorf("alias %q: %w", name, domain.ErrNotFound)
		}
		return domain.ID{}, fmt.Errorf("failed to get alias from redis: %w", err)
	}
	id, err := domain.ParseID(val)
	if err != nil {
		return domain.ID{}, fmt.Errorf("alias %q holds a malformed id: %w", name, err)
	}
	return id, nil
}

// ListAliases returns all bindings sorted by name.
func (s *AliasStore) ListAliases(ctx context.Context) ([]ports.Alias, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases from redis: %w", err)
	}
	out := make([]ports.Alias, 0, len(entries))
	for name, raw := range entries {
		id, err := domain.ParseID(raw)
		if err != nil {
			return nil, fmt.Errorf("alias %q holds a malformed id: %w", name, err)
		}
		out = append(out, ports.Alias{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close closes the redis client.
func (s *AliasStore) Close() error {
	return s.client.Close()
}
