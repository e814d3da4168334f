// Package blob stores payment proof files and hands back a URL for them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrEmptyKey is returned when Put is called without a key.
var ErrEmptyKey = errors.New("blob key is required")

// Store writes a blob and returns the URL it can be fetched from. Delete
// of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ProofKey builds a collision-free object key for a payment proof. The
// original file extension is kept.
func ProofKey(paymentID, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	return fmt.Sprintf("proofs/%s/%s%s", paymentID, uuid.NewString(), ext)
}

// =============================================================================
// MEMORY
// =============================================================================

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory keeps blobs in a map. URLs use the memory:// scheme.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return "memory://" + key, nil
}

// Get returns a stored blob.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
