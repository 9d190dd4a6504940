package relay

import (
	"context"
	"io"
)

// ObjectInfo describes an object on the remote file hub.
type ObjectInfo struct {
	Key  string
	Size int64
}

// RemoteStore is the destination side of a relay. Implementations must
// return errors.ErrObjectNotFound from Stat when the key does not exist so
// callers can distinguish absence from failure.
type RemoteStore interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
