// Package scheduler fires named jobs at wall-clock times in the service timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Func is invoked with the scheduler context and the local fire time.
type Func func(ctx context.Context, at time.Time)

// Scheduler wraps a cron instance anchored to one location.
type Scheduler struct {
	cron      *cron.Cron
	loc       *time.Location
	logger    *zap.Logger
	mu        sync.Mutex
	schedules map[string]cron.Schedule
	ctx       context.Context
	cancel    context.CancelFunc
}

// New returns a stopped Scheduler for loc.
func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	adapter := cronLogger{log: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter)),
		),
		loc:       loc,
		logger:    logger,
		schedules: make(map[string]cron.Schedule),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// DailySpec returns the cron expression for every day at "HH:MM".
func DailySpec(at string) (string, error) {
	h, m, err := ParseClock(at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// WeeklySpec returns the cron expression for one weekday at "HH:MM".
func WeeklySpec(day time.Weekday, at string) (string, error) {
	h, m, err := ParseClock(at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %d", m, h, int(day)), nil
}

// Daily registers fn to fire every day at "HH:MM".
func (s *Scheduler) Daily(name, at string, fn Func) error {
	spec, err := DailySpec(at)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.add(name, spec, fn)
}

// Weekly registers fn to fire on day at "HH:MM".
func (s *Scheduler) Weekly(name string, day time.Weekday, at string, fn Func) error {
	spec, err := WeeklySpec(day, at)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.add(name, spec, fn)
}

func (s *Scheduler) add(name, spec string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("schedule %s: nil job", name)
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[name]; exists {
		return fmt.Errorf("schedule %s: already registered", name)
	}
	s.schedules[name] = schedule
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		fn(s.ctx, time.Now().In(s.loc))
	}))
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec), zap.String("zone", s.loc.String()))
	return nil
}

// NextRun returns the first fire time of name strictly after t, or false if
// name is not registered.
func (s *Scheduler) NextRun(name string, after time.Time) (time.Time, bool) {
	s.mu.Lock()
	schedule, ok := s.schedules[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return schedule.Next(after.In(s.loc)), true
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.schedules))
	for n := range s.schedules {
		names = append(names, n)
	}
	return names
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Jobs())))
}

// Stop halts new firings, cancels the job context and waits for running jobs
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// LookbackRef shifts a fire time back by days calendar days in its zone. The
// result selects the day or week the fired job processes.
func LookbackRef(at time.Time, days int) time.Time {
	return at.AddDate(0, 0, -days)
}

// ParseClock parses a 24-hour "HH:MM" wall-clock time.
func ParseClock(v string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}

var errWeekday = errors.New("invalid weekday")

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(v string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w %q", errWeekday, v)
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
