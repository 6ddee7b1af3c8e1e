// Package redisstore implements storage.Backend with one Redis hash per namespace.
// It does not estimate usage, so the store reports 0 bytes for it.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"tripmap-offline/internal/storage"
)

// Config holds connection settings
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Backend is a Redis-backed storage.Backend
type Backend struct {
	client redis.UniversalClient
	prefix string
}

// Open connects and pings the server
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client
func New(client redis.UniversalClient, keyPrefix string) *Backend {
	if keyPrefix == "" {
		keyPrefix = "tripmap"
	}
	return &Backend{client: client, prefix: keyPrefix}
}

func (b *Backend) hashKey(namespace string) string {
	return b.prefix + ":" + namespace
}

// Put implements storage.Backend
func (b *Backend) Put(ctx context.Context, namespace, key string, value []byte) error {
	return b.client.HSet(ctx, b.hashKey(namespace), key, value).Err()
}

// Get implements storage.Backend
func (b *Backend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	value, err := b.client.HGet(ctx, b.hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// GetAll implements storage.Backend
func (b *Backend) GetAll(ctx context.Context, namespace string) ([][]byte, error) {
	raw, err := b.client.HVals(ctx, b.hashKey(namespace)).Result()
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(raw))
	for i, v := range raw {
		values[i] = []byte(v)
	}
	return values, nil
}

// Delete implements storage.Backend
func (b *Backend) Delete(ctx context.Context, namespace, key string) error {
	return b.client.HDel(ctx, b.hashKey(namespace), key).Err()
}

// Clear implements storage.Backend
func (b *Backend) Clear(ctx context.Context, namespace string) error {
	return b.client.Del(ctx, b.hashKey(namespace)).Err()
}

// ReplaceAll implements storage.Backend inside MULTI/EXEC
func (b *Backend) ReplaceAll(ctx context.Context, namespace string, entries map[string][]byte) error {
	key := b.hashKey(namespace)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) > 0 {
			fields := make(map[string]interface{}, len(entries))
			for k, v := range entries {
				fields[k] = v
			}
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	return err
}

// Close implements storage.Backend
func (b *Backend) Close() error {
	return b.client.Close()
}
