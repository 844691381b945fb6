package checkpoint

import (
	"context"

	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"go.uber.org/zap"
)

// Open returns the store selected by cfg.Type.
func Open(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case config.CheckpointFile, "":
		var fs *FileStore
		fs, err = NewFileStore(cfg.Dir, logger)
		store = fs
	case config.CheckpointGCS:
		var gs *GCSStore
		gs, err = NewGCSStore(ctx, cfg.GCS.Bucket, cfg.GCS.Prefix, cfg.GCS.CredentialsFile, logger)
		store = gs
	case config.CheckpointRedis:
		var rs *RedisStore
		rs, err = NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		store = rs
	default:
		err = deskerrors.Newf(deskerrors.ErrorTypeConfig, "unknown checkpoint store %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
