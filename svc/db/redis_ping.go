package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Ping round-trips a short-lived key so a read-only replica reports unhealthy.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := fmt.Sprintf("%shealth:%d", r.prefix, time.Now().UnixNano())
	if err := r.client.Set(ctx, key, "ok", 5*time.Second).Err(); err != nil {
		return errors.Wrap(err, "redis ping set")
	}
	return errors.Wrap(r.client.Del(ctx, key).Err(), "redis ping del")
}
