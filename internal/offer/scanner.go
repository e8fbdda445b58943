package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy bounds the scan loop.
type Policy struct {
	// PollInterval is the pause between polls of the offer list.
	PollInterval time.Duration
	// MaxEmptyPolls consecutive empty polls force a Refresh.
	MaxEmptyPolls int
	// MaxUITimeouts consecutive UI timeouts force a Reload.
	MaxUITimeouts int
	// SettleDelay is waited after picking the time and before committing.
	SettleDelay time.Duration
	// SkipOnNoOptions skips an offer whose hour or minute control is empty
	// instead of committing it without a time.
	SkipOnNoOptions bool
}

func DefaultPolicy() Policy {
	return Policy{
		PollInterval:  time.Second,
		MaxEmptyPolls: 10,
		MaxUITimeouts: 3,
		SettleDelay:   time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.MaxEmptyPolls <= 0 {
		p.MaxEmptyPolls = d.MaxEmptyPolls
	}
	if p.MaxUITimeouts <= 0 {
		p.MaxUITimeouts = d.MaxUITimeouts
	}
	if p.SettleDelay < 0 {
		p.SettleDelay = 0
	}
	return p
}

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	Origin string
	RunID  string
	Policy Policy
	// Now stamps ProcessedAt. Defaults to time.Now.
	Now func() time.Time
}

// PassResult counts what one pass over the visible offers did.
type PassResult struct {
	Seen      int
	Committed int
	Skipped   int
}

// Scanner polls the offers screen and confirms every offer it can.
// A Scanner drives a single page and must not be used concurrently.
type Scanner struct {
	source   Source
	recorder Recorder
	log      Logger
	policy   Policy
	origin   string
	runID    string
	now      func() time.Time

	emptyPolls int
	uiTimeouts int
}

func NewScanner(source Source, recorder Recorder, log Logger, opts ScannerOptions) *Scanner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		source:   source,
		recorder: recorder,
		log:      log,
		policy:   opts.Policy.withDefaults(),
		origin:   opts.Origin,
		runID:    opts.RunID,
		now:      now,
	}
}

// Run polls until ctx is done. It only returns ctx.Err().
func (s *Scanner) Run(ctx context.Context) error {
	s.log.Infof("Scanning offers for %s (poll %v, refresh after %d empty polls)",
		s.origin, s.policy.PollInterval, s.policy.MaxEmptyPolls)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
			s.noteError(ctx, "list offers", err)
		}

		if err := sleep(ctx, s.policy.PollInterval); err != nil {
			return err
		}
	}
}

// Poll performs one iteration of the scan loop: it lists the visible offers,
// processes them and refreshes the list when the pass is over or when too
// many polls came back empty.
func (s *Scanner) Poll(ctx context.Context) (PassResult, error) {
	offers, err := s.source.ListVisibleOffers(ctx)
	if err != nil {
		return PassResult{}, err
	}

	if len(offers) == 0 {
		s.emptyPolls++
		if s.emptyPolls == 2 {
			s.log.Debugf("Waiting for data")
		}
		if s.emptyPolls >= s.policy.MaxEmptyPolls {
			s.log.Debugf("No dates available after %d polls, running filter again", s.emptyPolls)
			s.emptyPolls = 0
			s.refresh(ctx)
		}
		return PassResult{}, nil
	}

	s.emptyPolls = 0
	s.log.Debugf("Dates available: %d", len(offers))

	res := s.Pass(ctx, offers)
	s.refresh(ctx)
	return res, nil
}

// Pass processes offers in order. A failing offer is logged and skipped.
func (s *Scanner) Pass(ctx context.Context, offers []Offer) PassResult {
	var res PassResult
	for _, o := range offers {
		if ctx.Err() != nil {
			break
		}
		res.Seen++

		_, err := s.Process(ctx, o)
		switch {
		case err == nil:
			res.Committed++
			s.uiTimeouts = 0
		case errors.Is(err, ErrMalformedWindow):
			res.Skipped++
			s.log.Warnf("Skipping offer %s: %v", o.ID, err)
		case errors.Is(err, ErrDayUnavailable):
			res.Skipped++
			s.log.Infof("Skipping offer %s: %v", o.ID, err)
		case errors.Is(err, errRecord):
			// committed on the portal, only the audit row is missing
			res.Committed++
			s.uiTimeouts = 0
			s.log.Errorf("Offer %s: %v", o.ID, err)
		default:
			res.Skipped++
			s.noteError(ctx, "offer "+o.ID, err)
		}
	}
	return res
}

var errRecord = errors.New("record offer")

// Process takes one offer through day, time and confirmation. On success the
// appended record is returned.
func (s *Scanner) Process(ctx context.Context, o Offer) (*Record, error) {
	w, err := ParseWindow(o.Label)
	if err != nil {
		return nil, err
	}

	s.log.Infof("%s", strings.Repeat("-", 50))
	s.log.Infof("Offer found: %s", o.ID)
	s.log.Infof("Date found: %s", w.Label)

	day, err := ResolveDay(ctx, w, s.source)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Extracted day: %s", day)

	if err := s.source.SelectDay(ctx, day); err != nil {
		return nil, fmt.Errorf("select day %s: %w", day, err)
	}

	rec := Record{
		RunID:     s.runID,
		OfferID:   o.ID,
		Origin:    s.origin,
		Window:    w.Label,
		Day:       day,
		StartTime: w.Start,
		EndTime:   w.End,
	}

	hour, hourSet, err := s.pick(ctx, Hour)
	rec.HourOptions = hourSet.Values
	if err != nil {
		if !errors.Is(err, ErrNoEnabledOptions) || s.policy.SkipOnNoOptions {
			return nil, err
		}
		s.log.Warnf("Offer %s: %v", o.ID, err)
	}

	minute, minuteSet, err2 := s.pick(ctx, Minute)
	rec.MinuteOptions = minuteSet.Values
	if err2 != nil {
		if !errors.Is(err2, ErrNoEnabledOptions) || s.policy.SkipOnNoOptions {
			return nil, err2
		}
		s.log.Warnf("Offer %s: %v", o.ID, err2)
	}

	if err == nil && err2 == nil {
		t := fmt.Sprintf("%02d:%02d", hour, minute)
		rec.SelectedTime = &t
	}

	if err := sleep(ctx, s.policy.SettleDelay); err != nil {
		return nil, err
	}

	if err := s.source.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	rec.ProcessedAt = s.now()
	s.log.Infof("Confirmed offer %s", o.ID)

	if err := s.recorder.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errRecord, o.ID, err)
	}
	s.log.Infof("Finished flow")
	s.log.Infof("%s", strings.Repeat("-", 50))
	return &rec, nil
}

// pick selects the largest enabled option of c.
func (s *Scanner) pick(ctx context.Context, c Control) (int, OptionSet, error) {
	opts, err := s.source.Options(ctx, c)
	if err != nil {
		return 0, OptionSet{}, fmt.Errorf("%s options: %w", c, err)
	}

	set := NewOptionSet(opts)
	opt, v, err := set.Max()
	if err != nil {
		return 0, set, fmt.Errorf("%s control: %w", c, err)
	}
	s.log.Infof("Max %s: %d", c, v)

	if err := s.source.SelectOption(ctx, c, opt); err != nil {
		return 0, set, fmt.Errorf("select %s %q: %w", c, opt.Value, err)
	}
	return v, set, nil
}

func (s *Scanner) refresh(ctx context.Context) {
	if err := s.source.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.noteError(ctx, "refresh", err)
	}
}

// noteError logs err and escalates after too many UI timeouts in a row.
func (s *Scanner) noteError(ctx context.Context, what string, err error) {
	if !errors.Is(err, ErrUITimeout) {
		s.log.Warnf("%s: %v", what, err)
		return
	}

	s.uiTimeouts++
	s.log.Warnf("%s: %v (%d/%d)", what, err, s.uiTimeouts, s.policy.MaxUITimeouts)
	if s.uiTimeouts < s.policy.MaxUITimeouts {
		return
	}
	s.uiTimeouts = 0

	if r, ok := s.source.(Reloader); ok {
		s.log.Warnf("Too many UI timeouts, reloading offers screen")
		if err := r.Reload(ctx); err != nil {
			s.log.Errorf("reload: %v", err)
		}
		return
	}
	s.log.Warnf("Too many UI timeouts, running filter again")
	if err := s.source.Refresh(ctx); err != nil {
		s.log.Errorf("refresh: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
