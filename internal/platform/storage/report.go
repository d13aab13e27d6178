package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ReportKind selects the object layout of a report.
type ReportKind string

const (
	ReportRefundSync ReportKind = "refund-sync"
)

// ReportPath returns reports/<kind>/YYYY/MM/DD/<unix-ms>.json for runAt in UTC.
func ReportPath(kind ReportKind, runAt time.Time) (string, error) {
	name := strings.TrimSpace(string(kind))
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("storage: invalid report kind %q", kind)
	}
	runAt = runAt.UTC()
	return fmt.Sprintf("reports/%s/%s/%d.json", name, runAt.Format("2006/01/02"), runAt.UnixMilli()), nil
}

type objectWriterFunc func(ctx context.Context, bucket, object string) io.WriteCloser

// ReportWriter stores JSON reports in a Cloud Storage bucket.
type ReportWriter struct {
	bucket    string
	newWriter objectWriterFunc
}

// NewReportWriter constructs a ReportWriter backed by client.
func NewReportWriter(client *gcs.Client, bucket string) (*ReportWriter, error) {
	if client == nil {
		return nil, errors.New("storage report writer: client is required")
	}
	return newReportWriter(bucket, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		w.CacheControl = "no-store"
		return w
	})
}

func newReportWriter(bucket string, factory objectWriterFunc) (*ReportWriter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage report writer: bucket is required")
	}
	return &ReportWriter{bucket: bucket, newWriter: factory}, nil
}

// WriteReport encodes report under the kind's path and returns the gs:// URI.
func (w *ReportWriter) WriteReport(ctx context.Context, kind ReportKind, runAt time.Time, report any) (string, error) {
	if w == nil || w.newWriter == nil {
		return "", errors.New("storage report writer: not initialised")
	}
	object, err := ReportPath(kind, runAt)
	if err != nil {
		return "", err
	}

	writer := w.newWriter(ctx, w.bucket, object)
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: encode report: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, object), nil
}
