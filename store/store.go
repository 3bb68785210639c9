// Package store persists per-device records in a key/value backend.
//
// Keys are dotted paths of the form "<deviceID>.<path>". Values are JSON documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrStoreRead  = errors.New("store read failed")
	ErrStoreWrite = errors.New("store write failed")
)

// Store is the durable key/value collaborator
type Store interface {
	// Get returns the raw JSON value of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value of key.
	Set(ctx context.Context, key string, value []byte) error

	// Extend merges the given fields into the JSON object at key without touching other fields.
	// A missing key is created from the fields.
	Extend(ctx context.Context, key string, fields map[string]any) error

	// Create stores value only if key does not exist yet. It reports whether the key was created.
	Create(ctx context.Context, key string, value []byte) (bool, error)

	Close() error
}

// Key joins a device id and path segments into a store key
func Key(deviceID string, path ...string) string {
	parts := append([]string{deviceID}, path...)
	return strings.Join(parts, ".")
}

// mergeFields overlays fields onto the JSON object in existing
func mergeFields(existing []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]any{}
	if len(existing) > 0 && string(existing) != "null" {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("existing value is not an object: %w", err)
		}
	}

	for k, v := range fields {
		doc[k] = v
	}

	return json.Marshal(doc)
}
