package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

type object struct {
	body        string
	contentType string
}

type memWriter struct {
	objects map[string]object
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string]object)
	}
	w.objects[path] = object{body: string(b), contentType: contentType}
	return nil
}

type tradeList []domain.Trade

func (l tradeList) ListTrades(_ context.Context, key common.Hash) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range l {
		if t.PositionKey == key {
			out = append(out, t)
		}
	}
	return out, nil
}

var closedAt = time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC)

func closedFixture(t *testing.T) domain.Position {
	t.Helper()
	pnl, err := fixedpoint.NewSigned(fixedpoint.Units(200), true)
	require.NoError(t, err)
	return domain.Position{
		Key:                  common.HexToHash("0xabc"),
		Market:               common.HexToHash("0xe7"),
		User:                 common.HexToAddress("0xa11ce"),
		IsLong:               true,
		CollateralAmount:     fixedpoint.Units(100),
		PositionSize:         fixedpoint.Zero(),
		AveragePricePerToken: fixedpoint.Units(2000),
		RealisedPnl:          pnl,
		EntryTimestamp:       closedAt.Add(-time.Hour),
	}
}

func TestArchivePosition(t *testing.T) {
	pos := closedFixture(t)
	w := &memWriter{}
	trades := tradeList{
		{ID: "t1", PositionKey: pos.Key, IsIncrease: true, ExecutedAt: closedAt.Add(-time.Hour)},
		{ID: "t2", PositionKey: pos.Key, Closed: true, ExecutedAt: closedAt},
		{ID: "other", PositionKey: common.HexToHash("0xdef")},
	}

	require.NoError(t, NewArchiver(w, trades).ArchivePosition(context.Background(), pos, closedAt))

	doc, ok := w.objects["positions/closed/2026/04/01/"+pos.Key.Hex()+".json"]
	require.True(t, ok, "position document written")
	assert.Equal(t, "application/json", doc.contentType)

	var got closedPosition
	require.NoError(t, json.Unmarshal([]byte(doc.body), &got))
	assert.Equal(t, "-200000000000000000000", got.RealisedPnl)
	assert.Equal(t, "2000000000000000000000", got.AveragePricePerToken)
	assert.Equal(t, closedAt, got.ClosedAt)

	log, ok := w.objects["trades/closed/2026/04/01/"+pos.Key.Hex()+".jsonl"]
	require.True(t, ok, "trade log written")
	lines := strings.Split(strings.TrimSpace(log.body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"t1"`)
	assert.Contains(t, lines[1], `"closed":true`)
}

func TestArchivePositionWithoutTrades(t *testing.T) {
	w := &memWriter{}
	require.NoError(t, NewArchiver(w, nil).ArchivePosition(context.Background(), closedFixture(t), closedAt))
	assert.Len(t, w.objects, 1)
}

func TestArchivePositionUploadError(t *testing.T) {
	w := &memWriter{err: errors.New("bucket gone")}
	err := NewArchiver(w, nil).ArchivePosition(context.Background(), closedFixture(t), closedAt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"minio.internal", false, "http://minio.internal"},
		{"s3.example.com", true, "https://s3.example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normaliseEndpoint(tt.in, tt.useSSL), tt.in)
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "positions/closed/a.json", "positions/closed/a.json"},
		{"mainnet", "positions/closed/a.json", "mainnet/positions/closed/a.json"},
		{"/mainnet/", "/trades/closed/a.jsonl", "mainnet/trades/closed/a.jsonl"},
	}
	for _, tt := range tests {
		c := &Client{prefix: normalisePrefix(tt.prefix)}
		assert.Equal(t, tt.want, c.ObjectKey(tt.path))
	}
}
