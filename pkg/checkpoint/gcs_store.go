package checkpoint

import (
	"context"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSStore keeps checkpoints as objects <prefix>/<key>.json in a bucket. An
// object write only becomes visible when the writer closes successfully.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewGCSStore connects to Cloud Storage. An empty credentialsFile uses
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string, logger *zap.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to create storage client")
	}

	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With(zap.String("component", "checkpoint_store"), zap.String("store", "gcs")),
	}, nil
}

// ObjectName returns the object backing key.
func (s *GCSStore) ObjectName(key string) string {
	return path.Join(s.prefix, key+".json")
}

// Load reads the checkpoint object under key.
func (s *GCSStore) Load(ctx context.Context, key string) (*Checkpoint, error) {
	if err := ValidateKey(key); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "load")
	}

	r, err := s.client.Bucket(s.bucket).Object(s.ObjectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to open checkpoint object")
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to read checkpoint object")
	}

	cp, err := Decode(data)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "corrupt checkpoint").
			WithDetail("object", s.ObjectName(key))
	}
	return cp, nil
}

// Save uploads the checkpoint object under key.
func (s *GCSStore) Save(ctx context.Context, key string, cp *Checkpoint) error {
	if err := ValidateKey(key); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "save")
	}

	data, err := Encode(cp)
	if err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to encode checkpoint")
	}

	w := s.client.Bucket(s.bucket).Object(s.ObjectName(key)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to write checkpoint object")
	}
	if err := w.Close(); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to commit checkpoint object")
	}

	s.logger.Debug("checkpoint saved", zap.String("key", key), zap.String("object", s.ObjectName(key)))
	return nil
}

// Close closes the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
