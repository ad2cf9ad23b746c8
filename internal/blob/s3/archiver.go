package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// BlobStore is the object storage surface the archiver needs.
type BlobStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// MultipartWriter is implemented by writers that can stream large uploads.
type MultipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ClosedLister lists positions for the daily export.
type ClosedLister interface {
	ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// Archiver writes each closed position as JSON under
// positions/YYYY/MM/DD/{id}.json and can export a day's positions as JSONL.
type Archiver struct {
	blobs BlobStore
}

var _ domain.PositionArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver on blobs.
func NewArchiver(blobs BlobStore) *Archiver {
	return &Archiver{blobs: blobs}
}

// ArchivePosition uploads one closed position. Re-archiving the same id is
// a no-op.
func (a *Archiver) ArchivePosition(ctx context.Context, pos domain.Position) error {
	if pos.Status != domain.PositionStatusClosed {
		return fmt.Errorf("s3blob: archive position %s: status %q: %w", pos.ID, pos.Status, domain.ErrDataIntegrity)
	}
	path := PositionPath(pos)

	exists, err := a.blobs.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, err := json.MarshalIndent(pos, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal position %s: %w", pos.ID, err)
	}
	if err := a.blobs.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive position %s: %w", pos.ID, err)
	}
	return nil
}

// ExportDay writes every position created on day (UTC) as JSONL to
// exports/YYYY-MM-DD.jsonl and returns how many rows were written.
func (a *Archiver) ExportDay(ctx context.Context, store ClosedLister, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	all, err := store.ListPositions(ctx, domain.ListOpts{Since: &start})
	if err != nil {
		return 0, fmt.Errorf("s3blob: export %s: %w", start.Format(time.DateOnly), err)
	}
	var rows []domain.Position
	for _, p := range all {
		if p.CreatedAt.Before(end) {
			rows = append(rows, p)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export %s: %w", start.Format(time.DateOnly), err)
	}

	path := ExportPath(start)
	if mw, ok := a.blobs.(MultipartWriter); ok {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(buf), "application/x-ndjson", 0)
	} else {
		err = a.blobs.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// PositionPath is the object key of an archived position, partitioned by
// close date.
func PositionPath(pos domain.Position) string {
	at := pos.UpdatedAt
	if pos.ClosedAt != nil {
		at = *pos.ClosedAt
	}
	return fmt.Sprintf("positions/%s/%s.json", at.UTC().Format("2006/01/02"), pos.ID)
}

// ExportPath is the object key of a daily export.
func ExportPath(day time.Time) string {
	return fmt.Sprintf("exports/%s.jsonl", day.UTC().Format(time.DateOnly))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// BlobBackend combines the Writer and Reader into a BlobStore.
type BlobBackend struct {
	*Writer
	*Reader
}

// NewBlobBackend returns the Writer and Reader of c as one BlobStore.
func NewBlobBackend(c *Client) BlobBackend {
	return BlobBackend{Writer: NewWriter(c), Reader: NewReader(c)}
}
