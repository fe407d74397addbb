// Package settings resolves runtime settings that operators may change
// without a redeploy, such as AUDIT_RETENTION_DAYS.
package settings

//go:generate mockgen -source=settings.go -destination=mocks/mocks.go -package=mocks Source

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// RetentionDaysKey names the retention window setting, in whole days.
const RetentionDaysKey = "AUDIT_RETENTION_DAYS"

// Source looks up a setting. found is false when the key is not set; err is
// reserved for lookup failures.
type Source interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

// Chain consults sources in order and returns the first value found. A failing
// source does not hide a later one; its error is returned only when no source
// has the key.
type Chain []Source

func (c Chain) Get(ctx context.Context, key string) (string, bool, error) {
	var errs []error
	for _, src := range c {
		value, found, err := src.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if found {
			return value, true, nil
		}
	}
	return "", false, errors.Join(errs...)
}

// MemorySource holds settings in process memory.
type MemorySource struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySource returns a source seeded with values.
func NewMemorySource(values map[string]string) *MemorySource {
	m := &MemorySource{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MemorySource) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// EnvSource reads settings from the process environment through Viper, so
// AUDIT_RETENTION_DAYS is looked up as-is and re-read on every call.
type EnvSource struct {
	v *viper.Viper
}

// NewEnvSource returns an environment-backed source.
func NewEnvSource() *EnvSource {
	v := viper.New()
	v.AutomaticEnv()
	return &EnvSource{v: v}
}

func (e *EnvSource) Get(_ context.Context, key string) (string, bool, error) {
	if !e.v.IsSet(key) {
		return "", false, nil
	}
	return strings.TrimSpace(e.v.GetString(key)), true, nil
}
