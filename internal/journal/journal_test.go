package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campdesk/labelbridge/internal/classify"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal", "labelbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	d := &Document{
		Source:         "/data/input/240815.pdf",
		Status:         StatusProcessed,
		VariableSymbol: "240815",
		FromDate:       "9.8.2024",
		ToDate:         "14.8.2024",
		Year:           "2024",
		Code:           "2KE",
		PrintCount:     2,
		Printed:        2,
		Flag:           true,
		Counts:         []classify.Count{{Label: "K", Value: 2}},
		LabelPath:      "/data/output-labels/240815_combined_label.png",
	}
	require.NoError(t, s.Record(ctx, d))

	_, err := uuid.Parse(d.ID)
	require.NoError(t, err, "ID should be a UUID")
	assert.False(t, d.CreatedAt.IsZero())

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)

	want := *d
	want.CreatedAt = d.CreatedAt.UTC()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected document (-want +got):\n%s", diff)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, status := range []Status{StatusProcessed, StatusBlacklisted, StatusNotReady} {
		require.NoError(t, s.Record(ctx, &Document{
			Source:    filepath.Join("/in", string(status)+".pdf"),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	docs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, StatusNotReady, docs[0].Status)
	assert.Equal(t, StatusBlacklisted, docs[1].Status)
	assert.Empty(t, docs[0].Counts)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordDuplicateID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	d := &Document{ID: "fixed", Source: "a.pdf", Status: StatusFailed}
	require.NoError(t, s.Record(ctx, d))
	assert.Error(t, s.Record(ctx, &Document{ID: "fixed", Source: "b.pdf", Status: StatusFailed}))
}
