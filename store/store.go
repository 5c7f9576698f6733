// Package store defines the narrow key-value surface the authentication
// core requires from its backing store: get, put, delete and prefix
// enumeration over a flat namespace. Values are opaque strings (JSON blobs
// or plain identifiers); the store offers no transactions and no
// cross-key consistency.
package store

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("key not found")

//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
