package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
	puts    int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	m.puts++
	return nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type multipartBlobs struct {
	*memBlobs
	multipart int
}

func (m *multipartBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, contentType)
}

type listStore []domain.Position

func (l listStore) ListPositions(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range l {
		if opts.Since != nil && p.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func closedPosition(id string, closedAt time.Time) domain.Position {
	reason := domain.CloseReasonTarget
	pnl := 1.25
	return domain.Position{
		ID:          id,
		MarketID:    "m-" + id,
		Side:        "NO",
		Size:        10,
		EntryPrice:  0.4,
		Status:      domain.PositionStatusClosed,
		CloseReason: &reason,
		RealizedPnL: &pnl,
		CreatedAt:   closedAt.Add(-time.Hour),
		ClosedAt:    &closedAt,
	}
}

func TestArchivePosition_WritesOnce(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs)
	pos := closedPosition("p1", time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))

	require.NoError(t, a.ArchivePosition(context.Background(), pos))
	require.NoError(t, a.ArchivePosition(context.Background(), pos))
	assert.Equal(t, 1, blobs.puts)

	body, ok := blobs.objects["positions/2026/03/02/p1.json"]
	require.True(t, ok)
	assert.Equal(t, "application/json", blobs.types["positions/2026/03/02/p1.json"])

	var got domain.Position
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "m-p1", got.MarketID)
}

func TestArchivePosition_RejectsOpen(t *testing.T) {
	a := NewArchiver(newMemBlobs())
	err := a.ArchivePosition(context.Background(), domain.Position{ID: "p1", Status: domain.PositionStatusOpen})
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestExportDay(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	store := listStore{
		closedPosition("before", day.Add(-2*time.Hour)),
		closedPosition("a", day.Add(3*time.Hour)),
		closedPosition("b", day.Add(20*time.Hour)),
		closedPosition("after", day.Add(26*time.Hour)),
	}
	blobs := &multipartBlobs{memBlobs: newMemBlobs()}
	a := NewArchiver(blobs)

	n, err := a.ExportDay(context.Background(), store, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, blobs.multipart)

	body := blobs.objects["exports/2026-03-02.jsonl"]
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var p domain.Position
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestExportDay_EmptyDayWritesNothing(t *testing.T) {
	blobs := newMemBlobs()
	n, err := NewArchiver(blobs).ExportDay(context.Background(), listStore{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b.json", joinKey("", "/a/b.json"))
	assert.Equal(t, "bot/a/b.json", joinKey("bot", "a/b.json"))
}
