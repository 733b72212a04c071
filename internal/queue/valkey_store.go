package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

const defaultConnectTimeout = 5 * time.Second

type ValkeyConfig struct {
	// Address is either host:port or a redis:// / rediss:// URL.
	Address  string
	Password string
	DB       int
}

// ValkeyStore runs the job queue on Redis lists.
type ValkeyStore struct {
	inner valkeylib.Client
}

func NewValkeyStore(ctx context.Context, cfg ValkeyConfig) (*ValkeyStore, error) {
	var opts valkeylib.ClientOption
	if strings.Contains(cfg.Address, "://") {
		parsed, err := valkeylib.ParseURL(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("parse valkey url: %w", err)
		}
		opts = parsed
	} else {
		opts = valkeylib.ClientOption{
			InitAddress: []string{cfg.Address},
			SelectDB:    cfg.DB,
		}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	// Hosted Redis offerings commonly reject CLIENT TRACKING.
	opts.DisableCache = true

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := inner.Do(pingCtx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return &ValkeyStore{inner: inner}, nil
}

func (s *ValkeyStore) Close() {
	s.inner.Close()
}

func (s *ValkeyStore) LPush(ctx context.Context, list string, value []byte) error {
	cmd := s.inner.B().Lpush().Key(list).Element(string(value)).Build()
	if err := s.inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("lpush %s: %w", list, err)
	}
	return nil
}

func (s *ValkeyStore) RPush(ctx context.Context, list string, value []byte) error {
	cmd := s.inner.B().Rpush().Key(list).Element(string(value)).Build()
	if err := s.inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("rpush %s: %w", list, err)
	}
	return nil
}

func (s *ValkeyStore) RPop(ctx context.Context, list string) ([]byte, bool, error) {
	data, err := s.inner.Do(ctx, s.inner.B().Rpop().Key(list).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rpop %s: %w", list, err)
	}
	return data, true, nil
}

func (s *ValkeyStore) LLen(ctx context.Context, list string) (int64, error) {
	n, err := s.inner.Do(ctx, s.inner.B().Llen().Key(list).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", list, err)
	}
	return n, nil
}

func (s *ValkeyStore) Del(ctx context.Context, list string) error {
	if err := s.inner.Do(ctx, s.inner.B().Del().Key(list).Build()).Error(); err != nil {
		return fmt.Errorf("del %s: %w", list, err)
	}
	return nil
}
