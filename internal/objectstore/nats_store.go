// Package objectstore keeps synthesized audio payloads in a NATS JetStream object
// store, keyed by the trial that produced them.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	audioPrefix      = "audio"
	defaultExtension = "mp3"
	metaProvider     = "provider"
	metaTrial        = "trial"
)

// ErrEmptyKey is returned when an object key is blank.
var ErrEmptyKey = errors.New("object key cannot be empty")

// NatsObjectStore implements core.ObjectStore on a JetStream object store bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized audio for the %s benchmark bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// AudioKey returns the object name under which a trial's audio is stored.
func AudioKey(result core.TrialResult) string {
	extension := defaultExtension
	if format := strings.TrimPrefix(result.Metadata.Format, "."); format != "" {
		extension = format
	}

	return fmt.Sprintf("%s/%s/%s.%s", audioPrefix, result.Provider, result.ID, extension)
}

// Download retrieves an object from the bucket.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}

	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the bucket, replacing any previous version.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	return n.put(ctx, &nats.ObjectMeta{Name: key}, data)
}

// StoreAudio uploads the audio carried by result and returns its key. A result
// without audio is not stored and yields an empty key.
func (n *NatsObjectStore) StoreAudio(ctx context.Context, result core.TrialResult) (string, error) {
	if len(result.Audio) == 0 {
		return "", nil
	}

	key := AudioKey(result)

	err := n.put(ctx, &nats.ObjectMeta{
		Name:        key,
		Description: fmt.Sprintf("%s audio for sample %s", result.Provider, result.SampleID),
		Metadata: map[string]string{
			metaProvider: string(result.Provider),
			metaTrial:    result.ID,
		},
	}, result.Audio)
	if err != nil {
		return "", err
	}

	return key, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	err := n.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

func (n *NatsObjectStore) put(ctx context.Context, meta *nats.ObjectMeta, data []byte) error {
	if strings.TrimSpace(meta.Name) == "" {
		return ErrEmptyKey
	}

	_, err := n.store.Put(meta, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", meta.Name, n.bucket, err)
	}

	return nil
}
