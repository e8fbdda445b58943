package offer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	batches  [][]Offer
	listErr  error
	days     map[string]bool
	options  map[Control][]Option
	optErr   map[Control]error
	commitEr error

	selectedDays []string
	selected     map[Control][]Option
	commits      int
	refreshes    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		days: map[string]bool{},
		options: map[Control][]Option{
			Hour:   opts("21", "22", "23"),
			Minute: opts("00", "15", "30", "45"),
		},
		optErr:   map[Control]error{},
		selected: map[Control][]Option{},
	}
}

func (f *fakeSource) ListVisibleOffers(context.Context) ([]Offer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeSource) DayIsSelectable(_ context.Context, day string) (bool, error) {
	return f.days[day], nil
}

func (f *fakeSource) SelectDay(_ context.Context, day string) error {
	f.selectedDays = append(f.selectedDays, day)
	return nil
}

func (f *fakeSource) Options(_ context.Context, c Control) ([]Option, error) {
	if err := f.optErr[c]; err != nil {
		return nil, err
	}
	return f.options[c], nil
}

func (f *fakeSource) SelectOption(_ context.Context, c Control, o Option) error {
	f.selected[c] = append(f.selected[c], o)
	return nil
}

func (f *fakeSource) Commit(context.Context) error {
	if f.commitEr != nil {
		return f.commitEr
	}
	f.commits++
	return nil
}

func (f *fakeSource) Refresh(context.Context) error {
	f.refreshes++
	return nil
}

type reloadingSource struct {
	*fakeSource
	reloads int
}

func (r *reloadingSource) Reload(context.Context) error {
	r.reloads++
	return nil
}

type memRecorder struct {
	records []Record
	err     error
}

func (m *memRecorder) Append(_ context.Context, r Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

type testLogger struct {
	lines []string
}

func (l *testLogger) add(level, format string, args ...any) {
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *testLogger) Debugf(format string, args ...any) { l.add("DEBUG", format, args...) }
func (l *testLogger) Infof(format string, args ...any)  { l.add("INFO", format, args...) }
func (l *testLogger) Warnf(format string, args ...any)  { l.add("WARN", format, args...) }
func (l *testLogger) Errorf(format string, args ...any) { l.add("ERROR", format, args...) }

var fixedNow = time.Date(2025, 6, 15, 23, 31, 0, 0, time.FixedZone("CST", -6*3600))

func newTestScanner(src Source, rec Recorder, p Policy) *Scanner {
	return NewScanner(src, rec, &testLogger{}, ScannerOptions{
		Origin: "Largos Puebla",
		RunID:  "run-1",
		Policy: p,
		Now:    func() time.Time { return fixedNow },
	})
}

func TestProcessRolledOverOffer(t *testing.T) {
	src := newFakeSource()
	src.days["16"] = true
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{})

	got, err := s.Process(context.Background(), Offer{ID: "12345678", Label: "15/06/2025 23:30 - 00:15"})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []string{"16"}, src.selectedDays)
	assert.Equal(t, "23", src.selected[Hour][0].Value)
	assert.Equal(t, "45", src.selected[Minute][0].Value)
	assert.Equal(t, 1, src.commits)

	require.Len(t, rec.records, 1)
	r := rec.records[0]
	assert.Equal(t, "12345678", r.OfferID)
	assert.Equal(t, "Largos Puebla", r.Origin)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, "15/06/2025 23:30 - 00:15", r.Window)
	assert.Equal(t, "16", r.Day)
	assert.Equal(t, "23:30", r.StartTime)
	assert.Equal(t, "00:15", r.EndTime)
	require.NotNil(t, r.SelectedTime)
	assert.Equal(t, "23:45", *r.SelectedTime)
	assert.Equal(t, []int{21, 22, 23}, r.HourOptions)
	assert.Equal(t, []int{0, 15, 30, 45}, r.MinuteOptions)
	assert.True(t, r.ProcessedAt.Equal(fixedNow))
}

func TestProcessFallsBackToBaseDay(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{})

	_, err := s.Process(context.Background(), Offer{ID: "1", Label: "15/06/2025 23:30 - 00:15"})
	require.NoError(t, err)
	assert.Equal(t, []string{"15"}, src.selectedDays)
	require.Len(t, rec.records, 1)
	assert.Equal(t, "15", rec.records[0].Day)
}

func TestProcessWithoutMinuteOptionsStillCommits(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	src.options[Minute] = []Option{{Value: "00", Disabled: true}}
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{})

	_, err := s.Process(context.Background(), Offer{ID: "1", Label: "15/06/2025 09:00 - 17:00"})
	require.NoError(t, err)

	assert.Equal(t, 1, src.commits)
	require.Len(t, rec.records, 1)
	assert.Nil(t, rec.records[0].SelectedTime)
	assert.Equal(t, []int{21, 22, 23}, rec.records[0].HourOptions)
	assert.Empty(t, rec.records[0].MinuteOptions)
}

func TestProcessSkipOnNoOptions(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	src.options[Hour] = nil
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{SkipOnNoOptions: true})

	_, err := s.Process(context.Background(), Offer{ID: "1", Label: "15/06/2025 09:00 - 17:00"})
	assert.ErrorIs(t, err, ErrNoEnabledOptions)
	assert.Zero(t, src.commits)
	assert.Empty(t, rec.records)
}

func TestProcessSkippedOffersRecordNothing(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		setup   func(*fakeSource)
		wantErr error
	}{
		{
			name:    "Malformed label",
			label:   "Sin ofertas",
			wantErr: ErrMalformedWindow,
		},
		{
			name:    "Base day missing",
			label:   "15/06/2025 09:00 - 17:00",
			setup:   func(f *fakeSource) { f.days["16"] = true },
			wantErr: ErrDayUnavailable,
		},
		{
			name:    "Rolled over day and fallback missing",
			label:   "15/06/2025 23:30 - 00:15",
			wantErr: ErrDayUnavailable,
		},
		{
			name:  "Commit timeout",
			label: "15/06/2025 09:00 - 17:00",
			setup: func(f *fakeSource) {
				f.days["15"] = true
				f.commitEr = fmt.Errorf("click Confirmar: %w", ErrUITimeout)
			},
			wantErr: ErrUITimeout,
		},
		{
			name:  "Hour control timeout",
			label: "15/06/2025 09:00 - 17:00",
			setup: func(f *fakeSource) {
				f.days["15"] = true
				f.optErr[Hour] = ErrUITimeout
			},
			wantErr: ErrUITimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			if tt.setup != nil {
				tt.setup(src)
			}
			rec := &memRecorder{}
			s := newTestScanner(src, rec, Policy{})

			got, err := s.Process(context.Background(), Offer{ID: "1", Label: tt.label})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
			assert.Empty(t, rec.records)
			assert.Zero(t, src.commits)
		})
	}
}

func TestPassContinuesAfterBadOffers(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{})

	res := s.Pass(context.Background(), []Offer{
		{ID: "1", Label: "garbage"},
		{ID: "2", Label: "15/06/2025 09:00 - 17:00"},
		{ID: "3", Label: "20/06/2025 09:00 - 17:00"},
		{ID: "4", Label: "15/06/2025 10:00"},
	})

	assert.Equal(t, PassResult{Seen: 4, Committed: 2, Skipped: 2}, res)
	require.Len(t, rec.records, 2)
	assert.Equal(t, "2", rec.records[0].OfferID)
	assert.Equal(t, "4", rec.records[1].OfferID)
}

func TestPassDoesNotDeduplicate(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{})

	o := Offer{ID: "7", Label: "15/06/2025 09:00 - 17:00"}
	s.Pass(context.Background(), []Offer{o})
	s.Pass(context.Background(), []Offer{o})

	assert.Equal(t, 2, src.commits)
	assert.Len(t, rec.records, 2)
}

func TestPassRecorderFailureCountsAsCommitted(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	rec := &memRecorder{err: errors.New("disk full")}
	log := &testLogger{}
	s := NewScanner(src, rec, log, ScannerOptions{Policy: Policy{}})

	res := s.Pass(context.Background(), []Offer{{ID: "9", Label: "15/06/2025 09:00"}})
	assert.Equal(t, PassResult{Seen: 1, Committed: 1}, res)
	assert.Contains(t, log.lines[len(log.lines)-1], "disk full")
}

func TestPassEscalatesAfterRepeatedTimeouts(t *testing.T) {
	base := newFakeSource()
	base.days["15"] = true
	base.optErr[Hour] = ErrUITimeout
	src := &reloadingSource{fakeSource: base}
	s := newTestScanner(src, &memRecorder{}, Policy{MaxUITimeouts: 3})

	offers := make([]Offer, 5)
	for i := range offers {
		offers[i] = Offer{ID: fmt.Sprint(i), Label: "15/06/2025 09:00 - 17:00"}
	}

	res := s.Pass(context.Background(), offers)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, 1, src.reloads)
	assert.Equal(t, 2, s.uiTimeouts)
}

func TestPollEscalatesTimeoutsAcrossPolls(t *testing.T) {
	base := newFakeSource()
	base.days["15"] = true
	base.optErr[Hour] = fmt.Errorf("wait for hour: %w", ErrUITimeout)
	for i := 0; i < 7; i++ {
		base.batches = append(base.batches, []Offer{{ID: fmt.Sprint(i), Label: "15/06/2025 09:00 - 17:00"}})
	}
	src := &reloadingSource{fakeSource: base}
	s := newTestScanner(src, &memRecorder{}, Policy{MaxUITimeouts: 3, MaxEmptyPolls: 100})

	for i := 0; i < 2; i++ {
		_, err := s.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Zero(t, src.reloads)
	assert.Equal(t, 2, s.uiTimeouts)

	for i := 0; i < 5; i++ {
		_, err := s.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.reloads)
	assert.Equal(t, 1, s.uiTimeouts)
}

func TestCommitResetsTimeouts(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	src.optErr[Hour] = ErrUITimeout
	src.batches = [][]Offer{
		{{ID: "1", Label: "15/06/2025 09:00"}},
		{{ID: "2", Label: "15/06/2025 09:00"}},
	}
	s := newTestScanner(src, &memRecorder{}, Policy{MaxUITimeouts: 3, MaxEmptyPolls: 100})

	_, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.uiTimeouts)

	delete(src.optErr, Hour)
	res, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
	assert.Zero(t, s.uiTimeouts)
}

func TestTimeoutsWithoutReloaderRefresh(t *testing.T) {
	src := newFakeSource()
	src.listErr = fmt.Errorf("wait for list: %w", ErrUITimeout)
	s := newTestScanner(src, &memRecorder{}, Policy{MaxUITimeouts: 3})

	for i := 0; i < 3; i++ {
		_, err := s.Poll(context.Background())
		require.ErrorIs(t, err, ErrUITimeout)
		s.noteError(context.Background(), "list offers", err)
	}
	assert.Equal(t, 1, src.refreshes)
	assert.Zero(t, s.uiTimeouts)
}

func TestPollRefreshesAfterEmptyPolls(t *testing.T) {
	src := newFakeSource()
	s := newTestScanner(src, &memRecorder{}, Policy{MaxEmptyPolls: 3})

	for i := 0; i < 2; i++ {
		_, err := s.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Zero(t, src.refreshes)

	_, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.refreshes)
	assert.Zero(t, s.emptyPolls)
}

func TestPollRefreshesAfterEveryPass(t *testing.T) {
	src := newFakeSource()
	src.batches = [][]Offer{
		{{ID: "1", Label: "not a window"}},
		{{ID: "2", Label: "15/06/2025 09:00"}},
	}
	src.days["15"] = true
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{MaxEmptyPolls: 100})

	res, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PassResult{Seen: 1, Skipped: 1}, res)
	assert.Equal(t, 1, src.refreshes)

	res, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PassResult{Seen: 1, Committed: 1}, res)
	assert.Equal(t, 2, src.refreshes)
	assert.Len(t, rec.records, 1)
}

func TestRunStopsWithContext(t *testing.T) {
	src := newFakeSource()
	src.days["15"] = true
	src.batches = [][]Offer{{{ID: "1", Label: "15/06/2025 09:00"}}}
	rec := &memRecorder{}
	s := newTestScanner(src, rec, Policy{PollInterval: 5 * time.Millisecond, MaxEmptyPolls: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rec.records, 1)
	assert.GreaterOrEqual(t, src.refreshes, 2)
}
