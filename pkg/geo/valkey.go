package geo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultValkeyKey is the hash holding location -> country code.
const DefaultValkeyKey = "harvest:geo:country_codes"

type ValkeyConfig struct {
	Addr     string
	Password string
	// Key is the hash name. Defaults to DefaultValkeyKey.
	Key string
	// TTL expires the whole hash after the last write. Zero keeps it forever.
	TTL time.Duration
}

// ValkeyCache persists resolved locations across runs in a Valkey hash.
type ValkeyCache struct {
	client valkey.Client
	key    string
	ttl    time.Duration
}

func NewValkeyCache(ctx context.Context, cfg ValkeyConfig) (*ValkeyCache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("valkey address is required")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{addr},
		Password:         cfg.Password,
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey: connect %s: %w", addr, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: ping %s: %w", addr, err)
	}

	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultValkeyKey
	}
	return &ValkeyCache{client: client, key: key, ttl: cfg.TTL}, nil
}

func (c *ValkeyCache) Get(ctx context.Context, key string) (string, bool, error) {
	code, err := c.client.Do(ctx, c.client.B().Hget().Key(c.key).Field(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (c *ValkeyCache) Set(ctx context.Context, key, code string) error {
	cmds := []valkey.Completed{
		c.client.B().Hset().Key(c.key).FieldValue().FieldValue(key, code).Build(),
	}
	if c.ttl > 0 {
		cmds = append(cmds, c.client.B().Expire().Key(c.key).Seconds(int64(c.ttl/time.Second)).Build())
	}
	for _, res := range c.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (c *ValkeyCache) Close() {
	c.client.Close()
}
