package cardwatch

import (
	"context"
	"log/slog"
	"time"

	"cardalert-backend/lib/apperr"
	"cardalert-backend/lib/scrapers/ecard"
	"cardalert-backend/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/cardwatch")

const (
	DefaultLookupWindowDays = 1
	// 1.00 CNY in minor units
	DefaultMergeThreshold      = 100
	DefaultDayInterval         = time.Minute
	DefaultNightInterval       = 20 * time.Minute
	DefaultRestartDelay        = 30 * time.Second
	nightIntervalWarnThreshold = 30 * time.Minute
)

type Options struct {
	// how many days back each portal lookup reaches; also sets the
	// log retention window (lookup window + 1 day)
	LookupWindowDays int
	// merge amounts strictly below this many minor units
	MergeThreshold int64
	DayInterval    time.Duration
	NightInterval  time.Duration
	// pause before re-logging-in after a recoverable failure
	RestartDelay time.Duration
	// debug mode skips first-cycle seeding so the initial window's
	// records are delivered as notifications
	Debug bool
	// called once per session after the cardholder identity is
	// confirmed
	OnVerified func(ecard.UserInfo)
}

// Service drives the poll loop: login, verify, then query → diff →
// merge → notify → persist → sleep → evict, forever. Recoverable
// failures restart the session from login; anything else aborts Run.
type Service struct {
	source   Source
	store    Store
	notifier Notifier
	opts     Options
	log      Set
}

func NewService(source Source, store Store, notifier Notifier, opts Options) *Service {
	if opts.LookupWindowDays <= 0 {
		opts.LookupWindowDays = DefaultLookupWindowDays
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	if opts.DayInterval <= 0 {
		opts.DayInterval = DefaultDayInterval
	}
	if opts.NightInterval <= 0 {
		opts.NightInterval = DefaultNightInterval
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.NightInterval > nightIntervalWarnThreshold {
		slog.Warn(
			"night interval is longer than half an hour, the loop may oversleep past dawn",
			"night_interval", opts.NightInterval,
		)
	}
	return &Service{
		source:   source,
		store:    store,
		notifier: notifier,
		opts:     opts,
	}
}

// Run blocks until the context is cancelled or a fatal error occurs.
func (s *Service) Run(ctx context.Context) error {
	log, err := s.store.LoadLog(ctx)
	if err != nil {
		return err
	}
	s.log = log
	slog.Info("loaded transaction log", "entries", len(s.log))

	announce := true
	for {
		err := s.runSession(ctx, announce)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !apperr.IsRecoverable(err) {
			return err
		}
		slog.Warn("session failed, restarting from login", "error", err)
		announce = false
		if err := sleep(ctx, s.opts.RestartDelay); err != nil {
			return err
		}
	}
}

func (s *Service) runSession(ctx context.Context, announce bool) error {
	if err := s.source.Login(ctx); err != nil {
		return err
	}
	info, err := s.source.Identity(ctx)
	if err != nil {
		return err
	}
	slog.Info("session verified", "id", info.ID, "name", info.Name, "role", info.Role)
	if s.opts.OnVerified != nil {
		s.opts.OnVerified(info)
	}

	if announce {
		err := s.notifier.Notify(ctx, "[INFO] 服务器开始运行", true)
		if err != nil {
			return err
		}
	}

	for {
		if err := s.cycle(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, s.pollInterval()); err != nil {
			return err
		}
		s.evictStale()
	}
}

func (s *Service) cycle(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "service:cycle")
	defer span.End()

	current, err := s.source.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return err
	}

	// on the very first cycle everything in the window is old news;
	// seed the log instead of replaying it all as notifications
	if !s.opts.Debug && len(s.log) == 0 {
		s.log = NewSet(current)
	}

	batch := Diff(current, s.log)
	SortForNotify(batch)
	merged := MergeSmall(batch, s.opts.MergeThreshold)
	slog.Debug("cycle results",
		"fetched", len(current), "new", len(batch), "merged", len(merged))

	for _, t := range merged {
		slog.Debug("sending notification", "time", t.Time)
		if err := s.notifier.Notify(ctx, formatAlert(t), false); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "notify failed")
			return err
		}
	}

	// the raw, unmerged rows go into the log so dedup is unaffected
	// by merging
	s.log.AddAll(current)
	if err := s.store.SaveLog(ctx, s.log); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return err
	}
	return nil
}

// evictStale drops log entries one day older than the lookup window,
// which guarantees an evicted record can never be fetched again.
func (s *Service) evictStale() {
	cutoff := time.Now().Unix() - int64(s.opts.LookupWindowDays+1)*24*60*60
	before := len(s.log)
	s.log.EvictOlderThan(cutoff)
	slog.Debug("evicted stale log entries", "before", before, "after", len(s.log))
}

// between midnight and 07:00 portal-local time spending is unlikely,
// so the loop polls at the slower night interval
func isNight(hour int) bool {
	return hour >= 0 && hour <= 6
}

func (s *Service) pollInterval() time.Duration {
	if isNight(timezone.Now().Hour()) {
		return s.opts.NightInterval
	}
	return s.opts.DayInterval
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
