package checkpoint

import (
	"context"
	"errors"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps checkpoints as string values under <prefix>:<key>. A SET
// replaces the value in one command.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to connect to redis")
	}

	return &RedisStore{
		client: client,
		prefix: opts.Prefix,
		logger: logger.With(zap.String("component", "checkpoint_store"), zap.String("store", "redis")),
	}, nil
}

// RedisKey returns the redis key backing key.
func (s *RedisStore) RedisKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Load reads the checkpoint under key.
func (s *RedisStore) Load(ctx context.Context, key string) (*Checkpoint, error) {
	if err := ValidateKey(key); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "load")
	}

	data, err := s.client.Get(ctx, s.RedisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to read checkpoint")
	}

	cp, err := Decode(data)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "corrupt checkpoint").
			WithDetail("key", s.RedisKey(key))
	}
	return cp, nil
}

// Save replaces the checkpoint under key.
func (s *RedisStore) Save(ctx context.Context, key string, cp *Checkpoint) error {
	if err := ValidateKey(key); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "save")
	}

	data, err := Encode(cp)
	if err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to encode checkpoint")
	}
	if err := s.client.Set(ctx, s.RedisKey(key), data, 0).Err(); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to write checkpoint")
	}

	s.logger.Debug("checkpoint saved", zap.String("key", s.RedisKey(key)))
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
