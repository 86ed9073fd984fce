package storage

import (
	"context"
	"strings"

	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
)

// Event names a key that was set or removed; listeners read the value with
// Get. Origin identifies the writer so a view never observes its own writes,
// the same way a browser tab never receives the storage event for its own write.
type Event struct {
	Key    string `json:"key"`
	Origin string `json:"origin,omitempty"`
}

// Store is the key/value storage shared by every view of a device.
type Store interface {
	// Get returns apperrors.ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Watch calls fn for every change whose origin differs from origin.
	// The returned cancel func detaches the watch and is safe to call twice.
	Watch(origin string, fn func(Event)) (cancel func())
}

type originKey struct{}

// WithOrigin tags writes made with ctx as coming from origin.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin set by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

const devicePrefix = "device:"

// prefixWatcher is implemented by stores that can deliver only the changes
// under one partition prefix.
type prefixWatcher interface {
	WatchPrefix(prefix, origin string, fn func(Event)) (cancel func())
}

// partition scopes a Store to one device by prefixing every key.
type partition struct {
	store  Store
	prefix string
}

// Partition returns a view of store that only sees keys belonging to deviceID.
func Partition(store Store, deviceID string) Store {
	return &partition{store: store, prefix: devicePrefix + deviceID + ":"}
}

// partitionPrefix returns the "device:<id>:" prefix of a partitioned key, or "".
func partitionPrefix(key string) string {
	rest, ok := strings.CutPrefix(key, devicePrefix)
	if !ok {
		return ""
	}
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return ""
	}
	return key[:len(devicePrefix)+i+1]
}

func (p *partition) Get(ctx context.Context, key string) (string, error) {
	return p.store.Get(ctx, p.prefix+key)
}

func (p *partition) Set(ctx context.Context, key, value string) error {
	return p.store.Set(ctx, p.prefix+key, value)
}

func (p *partition) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.prefix+key)
}

func (p *partition) Watch(origin string, fn func(Event)) func() {
	scoped := func(e Event) {
		if !strings.HasPrefix(e.Key, p.prefix) {
			return
		}
		e.Key = strings.TrimPrefix(e.Key, p.prefix)
		fn(e)
	}
	if pw, ok := p.store.(prefixWatcher); ok {
		return pw.WatchPrefix(p.prefix, origin, scoped)
	}
	return p.store.Watch(origin, scoped)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return apperrors.Is(err, apperrors.ErrNotFound)
}
