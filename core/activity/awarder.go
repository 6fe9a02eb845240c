package activity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/trezcool/hatua/core"
)

type (
	// AwardResult is the server's authoritative answer to an award attempt.
	// The awarder's cadence is only a client-side optimization; the server
	// enforces its own cooldown and may refuse.
	AwardResult struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}

	// PointsService is the external award operation.
	PointsService interface {
		AwardActivityPoint(ctx context.Context, studentID string) (AwardResult, error)
	}
)

// PointAwarder grants a fixed point reward on a fixed cadence while the
// student is demonstrably active. Input events (mouse/keyboard/scroll/click,
// reported by the UI layer) reset an idle timer; the recurring check only
// calls the award operation if the student produced input within the idle
// window. Best-effort engagement scoring: errors are logged and dropped.
type PointAwarder struct {
	studentID string
	points    PointsService
	clock     core.Clock
	logger    core.Logger
	conf      *core.Config

	lastInput int64 // unix nanos; atomic

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    sync.WaitGroup
}

func NewPointAwarder(studentID string, points PointsService, clock core.Clock, logger core.Logger, conf *core.Config) *PointAwarder {
	return &PointAwarder{
		studentID: studentID,
		points:    points,
		clock:     clock,
		logger:    logger,
		conf:      conf,
	}
}

// OnInputEvent resets the idle timer.
func (a *PointAwarder) OnInputEvent() {
	atomic.StoreInt64(&a.lastInput, a.clock.Now().UnixNano())
}

// Idle reports whether no input was seen within the idle window.
func (a *PointAwarder) Idle() bool {
	last := atomic.LoadInt64(&a.lastInput)
	return a.clock.Now().UnixNano()-last >= int64(a.conf.Gamification.IdleTimeout)
}

// Start launches the recurring award check. Idempotent.
func (a *PointAwarder) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.OnInputEvent() // opening the page counts as input
	a.started = true
	a.stop = make(chan struct{})
	a.done.Add(1)
	go a.loop()
}

// Stop cancels the recurring check. Idempotent.
func (a *PointAwarder) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.stop)
	a.mu.Unlock()
	a.done.Wait()
}

func (a *PointAwarder) loop() {
	defer a.done.Done()
	ticker := a.clock.NewTicker(a.conf.Gamification.AwardInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			a.check(context.Background())
		case <-a.stop:
			return
		}
	}
}

// check awards one point if the student was recently active.
func (a *PointAwarder) check(ctx context.Context) {
	if a.Idle() {
		return
	}
	res, err := a.points.AwardActivityPoint(ctx, a.studentID)
	if err != nil {
		a.logger.Warn("awarding activity point", err)
		return
	}
	if !res.Success {
		a.logger.Debug("activity point refused: " + res.Message)
	}
}
