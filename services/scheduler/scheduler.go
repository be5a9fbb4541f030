// scheduler keeps every active account syncing on its own cadence. One
// supervisor goroutine owns all schedule state; cycles themselves run
// on a bounded worker pool.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"learnsync-backend/lib/scrapers/learnus/core"
	"learnsync-backend/services/credstore"
	"learnsync-backend/services/syncer"
)

var tracer = otel.Tracer("services/scheduler")

type CycleRunner interface {
	RunCycle(ctx context.Context, accountId string) (syncer.CycleReport, error)
}

type CredentialDirectory interface {
	ListActive(ctx context.Context) ([]credstore.Credential, error)
	RecordBadLogin(ctx context.Context, accountId string) (int64, error)
	Deactivate(ctx context.Context, accountId, reason string) error
}

type Config struct {
	// base interval between successful cycles, defaults to 30 minutes
	Interval time.Duration `json:"interval"`
	// failure backoff ceiling, defaults to 4 hours
	MaxBackoff time.Duration `json:"max_backoff"`
	// hard per-cycle budget, defaults to 120 seconds
	CycleTimeout time.Duration `json:"cycle_timeout"`
	// how often due accounts are checked for, defaults to 30 seconds
	PollEvery time.Duration `json:"poll_every"`
	// cron spec for the nightly full resync, defaults to 04:00
	FullResyncSpec string `json:"full_resync_spec"`
	// consecutive credential rejections before deactivation, defaults to 3
	BadLoginLimit int64 `json:"bad_login_limit"`
	// cycles allowed in flight at once, defaults to 4
	MaxConcurrent int `json:"max_concurrent"`
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = 30 * time.Minute
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 4 * time.Hour
	}
	if c.CycleTimeout == 0 {
		c.CycleTimeout = 120 * time.Second
	}
	if c.PollEvery == 0 {
		c.PollEvery = 30 * time.Second
	}
	if c.FullResyncSpec == "" {
		c.FullResyncSpec = "0 4 * * *"
	}
	if c.BadLoginLimit == 0 {
		c.BadLoginLimit = 3
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	return c
}

type accountState struct {
	interval time.Duration
	nextRun  time.Time
	// running doubles as the overlap guard: an account never has two
	// cycles in flight
	running bool
}

type cycleDone struct {
	accountId string
	err       error
}

type Scheduler struct {
	cfg      Config
	runner   CycleRunner
	creds    CredentialDirectory
	triggers chan string
	resync   chan struct{}
	done     chan cycleDone
}

func New(runner CycleRunner, creds CredentialDirectory, cfg Config) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		runner:   runner,
		creds:    creds,
		triggers: make(chan string, 16),
		resync:   make(chan struct{}, 1),
		done:     make(chan cycleDone),
	}
}

// TriggerNow asks for an immediate cycle outside the schedule. Safe
// from any goroutine; a cycle already in flight absorbs the request.
func (s *Scheduler) TriggerNow(accountId string) {
	select {
	case s.triggers <- accountId:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var group errgroup.Group
	group.SetLimit(s.cfg.MaxConcurrent)

	crontab := cron.New()
	_, err := crontab.AddFunc(s.cfg.FullResyncSpec, func() {
		select {
		case s.resync <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("bad full-resync schedule %q: %w", s.cfg.FullResyncSpec, err)
	}
	crontab.Start()
	defer crontab.Stop()

	states := map[string]*accountState{}
	ticker := time.NewTicker(s.cfg.PollEvery)
	defer ticker.Stop()

	s.poll(ctx, &group, states)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "scheduler shutting down")
			return group.Wait()
		case <-ticker.C:
			s.poll(ctx, &group, states)
		case d := <-s.done:
			s.handleDone(ctx, d, states)
		case accountId := <-s.triggers:
			st := states[accountId]
			if st == nil {
				slog.WarnContext(ctx, "trigger for unknown account", "account", accountId)
				continue
			}
			st.nextRun = time.Now()
			if !st.running {
				s.start(ctx, &group, states, accountId)
			}
		case <-s.resync:
			slog.InfoContext(ctx, "full resync requested")
			for _, st := range states {
				st.nextRun = time.Now()
			}
			s.poll(ctx, &group, states)
		}
	}
}

// poll refreshes the account roster and starts every due cycle. A
// credential store outage skips the whole round instead of being
// mistaken for "no accounts".
func (s *Scheduler) poll(ctx context.Context, group *errgroup.Group, states map[string]*accountState) {
	creds, err := s.creds.ListActive(ctx)
	if err != nil {
		slog.WarnContext(ctx, "credential store unavailable, skipping round", "err", err)
		return
	}

	active := map[string]bool{}
	for _, cred := range creds {
		active[cred.AccountId] = true
		if states[cred.AccountId] == nil {
			states[cred.AccountId] = &accountState{
				interval: s.cfg.Interval,
				nextRun:  time.Now(),
			}
		}
	}
	for accountId, st := range states {
		if !active[accountId] && !st.running {
			delete(states, accountId)
		}
	}

	now := time.Now()
	for accountId, st := range states {
		if !active[accountId] || st.running || now.Before(st.nextRun) {
			continue
		}
		s.start(ctx, group, states, accountId)
	}
}

func (s *Scheduler) start(ctx context.Context, group *errgroup.Group, states map[string]*accountState, accountId string) {
	st := states[accountId]
	st.running = true
	ok := group.TryGo(func() error {
		d := cycleDone{accountId: accountId, err: s.runOne(ctx, accountId)}
		select {
		case s.done <- d:
		case <-ctx.Done():
		}
		return nil
	})
	if !ok {
		// pool is full, the account stays due and the next poll retries
		st.running = false
	}
}

func (s *Scheduler) runOne(ctx context.Context, accountId string) error {
	ctx, span := tracer.Start(ctx, "scheduler:cycle")
	defer span.End()
	span.SetAttributes(attribute.String("account", accountId))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	_, err := s.runner.RunCycle(ctx, accountId)
	return err
}

func nextInterval(current, base, ceiling time.Duration) time.Duration {
	doubled := current * 2
	if doubled < base {
		doubled = base
	}
	if doubled > ceiling {
		doubled = ceiling
	}
	return doubled
}

func (s *Scheduler) handleDone(ctx context.Context, d cycleDone, states map[string]*accountState) {
	st := states[d.accountId]
	if st == nil {
		return
	}
	st.running = false

	if d.err == nil {
		st.interval = s.cfg.Interval
		st.nextRun = time.Now().Add(st.interval)
		return
	}

	slog.WarnContext(ctx, "sync cycle failed", "account", d.accountId, "err", d.err)

	var loginErr *core.LoginError
	if errors.As(d.err, &loginErr) && loginErr.Reason == core.ReasonBadCredentials {
		count, err := s.creds.RecordBadLogin(ctx, d.accountId)
		if err != nil {
			slog.WarnContext(ctx, "failed to record bad login", "account", d.accountId, "err", err)
		} else if count >= s.cfg.BadLoginLimit {
			err = s.creds.Deactivate(ctx, d.accountId, fmt.Sprintf("portal rejected credentials %d times in a row", count))
			if err != nil {
				slog.WarnContext(ctx, "failed to deactivate credential", "account", d.accountId, "err", err)
			}
			delete(states, d.accountId)
			return
		}
	}

	st.interval = nextInterval(st.interval, s.cfg.Interval, s.cfg.MaxBackoff)
	st.nextRun = time.Now().Add(st.interval)
}
