// Package storage is the durable key-value collaborator. Values are JSON documents addressed by
// string keys; every backend offers the same two operations and nothing else.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt marks a stored value that exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt stored value")

type Store interface {
	// Get returns the stored bytes, or found=false when the key has never been written.
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Put(ctx context.Context, key string, data []byte) error
}

// Load decodes the value under key into dst. When the key is absent dst is left untouched,
// so callers pre-populate it with their default.
func Load(ctx context.Context, s Store, key string, dst any) (bool, error) {
	data, found, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w: %w", key, ErrCorrupt, err)
	}
	return true, nil
}

func Save(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// SessionKey namespaces name under a browsing session.
func SessionKey(sessionID, name string) string {
	return "session:" + sessionID + ":" + name
}
