package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

type objectSink interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

type gcsSink struct {
	client *gcs.Client
}

func (s gcsSink) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-store"
	return w
}

// ReportWriter uploads JSON reports into the exports bucket.
type ReportWriter struct {
	sink   objectSink
	bucket string
}

// NewReportWriter constructs a ReportWriter backed by the provided Cloud Storage client.
func NewReportWriter(client *gcs.Client, bucket string) (*ReportWriter, error) {
	if client == nil {
		return nil, errors.New("storage reports: client is required")
	}
	return newReportWriter(gcsSink{client: client}, bucket)
}

func newReportWriter(sink objectSink, bucket string) (*ReportWriter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage reports: bucket is required")
	}
	return &ReportWriter{sink: sink, bucket: bucket}, nil
}

// WriteReport encodes report as JSON at the path for kind and returns the gs:// URI.
func (w *ReportWriter) WriteReport(ctx context.Context, kind ReportKind, params PathParams, report any) (string, error) {
	if w == nil || w.sink == nil {
		return "", errors.New("storage reports: writer is not initialised")
	}
	object, err := BuildObjectPath(kind, params)
	if err != nil {
		return "", err
	}

	writer := w.sink.NewWriter(ctx, w.bucket, object, "application/json")
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage reports: encode %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage reports: upload %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, object), nil
}
