package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/offer"
)

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "offers.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord(offerID string, selected *string) offer.Record {
	loc := time.FixedZone("CST", -6*3600)
	return offer.Record{
		RunID:         "3f1c2f9e-0000-4000-8000-000000000001",
		OfferID:       offerID,
		Origin:        "Largos Puebla",
		Window:        "15/06/2025 23:30 - 00:15",
		Day:           "16",
		StartTime:     "23:30",
		EndTime:       "00:15",
		SelectedTime:  selected,
		HourOptions:   []int{21, 22, 23},
		MinuteOptions: []int{0, 15, 30, 45},
		ProcessedAt:   time.Date(2025, 6, 15, 23, 31, 5, 0, loc),
	}
}

func strPtr(s string) *string { return &s }

func TestSQLiteAppendAndList(t *testing.T) {
	db := testSQLite(t)
	ctx := context.Background()

	require.NoError(t, db.Append(ctx, sampleRecord("11111111", strPtr("23:45"))))
	require.NoError(t, db.Append(ctx, sampleRecord("22222222", nil)))

	got, err := db.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// newest first, ids increase monotonically
	assert.Equal(t, "22222222", got[0].OfferID)
	assert.Equal(t, "11111111", got[1].OfferID)
	assert.Greater(t, got[0].ID, got[1].ID)

	assert.Nil(t, got[0].SelectedTime)
	require.NotNil(t, got[1].SelectedTime)
	assert.Equal(t, "23:45", *got[1].SelectedTime)

	want := sampleRecord("11111111", strPtr("23:45"))
	r := got[1]
	assert.Equal(t, want.RunID, r.RunID)
	assert.Equal(t, want.Origin, r.Origin)
	assert.Equal(t, want.Window, r.Window)
	assert.Equal(t, want.Day, r.Day)
	assert.Equal(t, want.StartTime, r.StartTime)
	assert.Equal(t, want.EndTime, r.EndTime)
	assert.Equal(t, want.HourOptions, r.HourOptions)
	assert.Equal(t, want.MinuteOptions, r.MinuteOptions)
	assert.True(t, want.ProcessedAt.Equal(r.ProcessedAt))
	_, offset := r.ProcessedAt.Zone()
	assert.Equal(t, -6*3600, offset, "zone offset must survive the round trip")
}

func TestSQLiteListLimit(t *testing.T) {
	db := testSQLite(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, db.Append(ctx, sampleRecord(id, nil)))
	}

	got, err := db.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].OfferID)
	assert.Equal(t, "2", got[1].OfferID)
}

func TestSQLiteDuplicatesAreKept(t *testing.T) {
	db := testSQLite(t)
	ctx := context.Background()

	r := sampleRecord("12345678", strPtr("23:45"))
	require.NoError(t, db.Append(ctx, r))
	require.NoError(t, db.Append(ctx, r))

	got, err := db.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteEmptyOptionSets(t *testing.T) {
	db := testSQLite(t)
	ctx := context.Background()

	r := sampleRecord("1", nil)
	r.HourOptions = nil
	r.MinuteOptions = []int{}
	require.NoError(t, db.Append(ctx, r))

	got, err := db.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].HourOptions)
	assert.Empty(t, got[0].MinuteOptions)
}

func TestSQLiteReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offers.db")
	ctx := context.Background()

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Append(ctx, sampleRecord("1", nil)))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenPicksBackend(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "")
	assert.Error(t, err)

	s, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "offers.db"))
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*SQLite)
	assert.True(t, ok, "expected SQLite backend, got %T", s)
}

func TestPostgresAppendAndList(t *testing.T) {
	url := os.Getenv("OFFERBOT_TEST_POSTGRES")
	if url == "" {
		t.Skip("OFFERBOT_TEST_POSTGRES not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	r := sampleRecord("pg-"+time.Now().Format("150405.000"), strPtr("23:45"))
	require.NoError(t, s.Append(ctx, r))

	got, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.OfferID, got[0].OfferID)
	require.NotNil(t, got[0].SelectedTime)
	assert.Equal(t, "23:45", *got[0].SelectedTime)
	assert.Equal(t, r.HourOptions, got[0].HourOptions)
}
