// Package cache provides the fast-access key/value layer in front of the
// durable store. Values are JSON encoded; every implementation is safe for
// concurrent use.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing cache cannot be reached
var ErrUnavailable = errors.New("cache unavailable")

// Cache is a get/set/expire store. A miss is reported as (false, nil), never as an error.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix and returns how many were removed
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Key prefixes shared by the services
const (
	SessionPrefix  = "session:"
	CompanyPrefix  = "company:"
	TemplatePrefix = "prompt:"
)
