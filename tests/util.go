package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/user"
	inmemdb "github.com/trezcool/hatua/storage/database/inmem"
)

// ResetDB empties all tables between tests.
func ResetDB(t *testing.T, db *inmemdb.DB) {
	t.Helper()
	db.Reset()
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role string,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if role == "" {
		role = user.RoleStudent
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		Status:    user.StatusActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreatePhase(
	t *testing.T,
	repo phase.Repository,
	number int,
	title string,
	start, end time.Time,
	opts ...func(*phase.Phase),
) phase.Phase {
	now := time.Now().UTC()
	ph := phase.Phase{
		PhaseNumber:           number,
		Title:                 title,
		AllowedSubmissionType: phase.AllowBoth,
		StartDate:             start.UTC(),
		EndDate:               end.UTC(),
		IsActive:              true,
		TotalAssignments:      1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	for _, opt := range opts {
		opt(&ph)
	}
	ph, err := repo.CreatePhase(context.Background(), ph)
	if err != nil {
		t.Fatalf("createPhase() failed: %v", err)
	}
	return ph
}

// NopLogger discards all log output.
type NopLogger struct{}

func (NopLogger) Debug(msg string, args ...interface{}) {}
func (NopLogger) Info(msg string, args ...interface{})  {}
func (NopLogger) Warn(msg string, args ...interface{})  {}
func (NopLogger) Error(msg string, args ...interface{}) {}
func (NopLogger) Fatal(msg string, args ...interface{}) {}

var _ core.Logger = NopLogger{}

// Eventually polls cond until it holds or the timeout elapses. Timer-driven
// components process ticks on their own goroutines; assertions on their
// effects have to wait for the goroutine to catch up.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// Clock is a manually advanced core.Clock for timer-driven tests.
type Clock struct {
	mutex   sync.Mutex
	now     time.Time
	tickers []*Ticker
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *Clock) NewTicker(d time.Duration) core.Ticker {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	tkr := &Ticker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, tkr)
	return tkr
}

// Advance moves the clock forward and fires all live tickers once.
func (c *Clock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := make([]*Ticker, len(c.tickers))
	copy(tickers, c.tickers)
	c.mutex.Unlock()

	for _, tkr := range tickers {
		tkr.tick(now)
	}
}

type Ticker struct {
	mutex   sync.Mutex
	ch      chan time.Time
	stopped bool
}

func (t *Ticker) C() <-chan time.Time { return t.ch }

func (t *Ticker) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.stopped = true
}

func (t *Ticker) tick(now time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}

var _ core.Clock = (*Clock)(nil)
