// Package gcs mirrors completed captures into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/capture"
)

// Config captures the parameters required to mirror into GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Mirror is a capture.Observer that copies completed blobs to GCS. The local
// blob stays authoritative; the mirror is never read back.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
	logger *zap.Logger
}

// New creates a Mirror on an existing client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// Dial creates a client with Application Default Credentials and fails fast
// if the bucket is not reachable.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Mirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err), client.Close())
	}
	m, err := New(client, cfg, logger)
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	m.owned = true
	return m, nil
}

// ObjectName returns the object a ticket is mirrored to.
func (m *Mirror) ObjectName(ticket string) string {
	if m.prefix == "" {
		return ticket
	}
	return path.Join(m.prefix, ticket)
}

// Observe uploads the blob of a completed capture. Other outcomes are ignored.
func (m *Mirror) Observe(ctx context.Context, outcome capture.Outcome) error {
	if outcome.Status != capture.StatusCompleted {
		return nil
	}
	// #nosec G304 -- BlobPath comes from the local store, not from clients.
	f, err := os.Open(outcome.BlobPath)
	if err != nil {
		return fmt.Errorf("open blob for mirror: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			m.logger.Warn("close mirrored blob failed", zap.String("ticket", outcome.Ticket), zap.Error(cerr))
		}
	}()

	uri, err := m.PutObject(ctx, m.ObjectName(outcome.Ticket), f, map[string]string{
		"sha256":    outcome.Hash,
		"url":       outcome.URL,
		"extractor": outcome.Extractor,
	})
	if err != nil {
		return err
	}
	m.logger.Debug("capture mirrored", zap.String("ticket", outcome.Ticket), zap.String("uri", uri))
	return nil
}

// PutObject uploads r to the bucket and returns a gs:// URI.
func (m *Mirror) PutObject(ctx context.Context, name string, r io.Reader, metadata map[string]string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = metadata
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, name), nil
}

// Close releases the client when the Mirror created it.
func (m *Mirror) Close() error {
	if !m.owned {
		return nil
	}
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
