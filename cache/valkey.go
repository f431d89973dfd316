package cache

import (
	"context"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyBackend stores cache entries in a Valkey (open-source Redis) server.
type ValkeyBackend struct {
	client valkey.Client
}

func NewValkeyBackend(client valkey.Client) *ValkeyBackend {
	return &ValkeyBackend{client: client}
}

func (v *ValkeyBackend) Name() string { return "valkey" }

func (v *ValkeyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := v.client.Do(ctx, v.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, err := resp.AsBytes()
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (v *ValkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return v.client.Do(
		ctx, v.client.B().Set().
			Key(key).
			Value(valkey.BinaryString(value)).
			Ex(ttl).
			Build(),
	).Error()
}

func (v *ValkeyBackend) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := v.client.Do(ctx, v.client.B().Del().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (v *ValkeyBackend) Clear(ctx context.Context) error {
	return v.client.Do(ctx, v.client.B().Flushdb().Build()).Error()
}
