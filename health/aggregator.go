package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Static errors for health package
var (
	ErrHealthCheckNotFound = errors.New("health check not found")
	ErrDuplicateCheck      = errors.New("health check already registered")
)

// Aggregator runs registered checks and reduces them to the worst status.
type Aggregator struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	order    []string
	timeout  time.Duration
}

// NewAggregator creates an aggregator that bounds each check by timeout.
// A zero timeout means 5 seconds.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{checkers: make(map[string]HealthChecker), timeout: timeout}
}

// RegisterCheck registers a health check with the aggregator
func (a *Aggregator) RegisterCheck(checker HealthChecker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.checkers[checker.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCheck, checker.Name())
	}
	a.checkers[checker.Name()] = checker
	a.order = append(a.order, checker.Name())
	return nil
}

// CheckOne runs a specific health check by name
func (a *Aggregator) CheckOne(ctx context.Context, name string) (*CheckResult, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHealthCheckNotFound, name)
	}
	return a.run(ctx, checker), nil
}

// CheckAll runs every registered check in registration order.
func (a *Aggregator) CheckAll(ctx context.Context) *AggregatedStatus {
	a.mu.RLock()
	checkers := make([]HealthChecker, 0, len(a.order))
	for _, name := range a.order {
		checkers = append(checkers, a.checkers[name])
	}
	a.mu.RUnlock()

	status := &AggregatedStatus{
		OverallStatus: StatusHealthy,
		Timestamp:     time.Now(),
		CheckResults:  make(map[string]*CheckResult, len(checkers)),
	}
	for _, checker := range checkers {
		result := a.run(ctx, checker)
		status.CheckResults[checker.Name()] = result
		if result.Status.severity() > status.OverallStatus.severity() {
			status.OverallStatus = result.Status
		}
	}
	return status
}

// IsLive reports whether no check is critical.
func (a *Aggregator) IsLive(ctx context.Context) bool {
	return a.CheckAll(ctx).OverallStatus != StatusCritical
}

func (a *Aggregator) run(ctx context.Context, checker HealthChecker) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	began := time.Now()
	result, err := checker.Check(ctx)
	if err != nil {
		result = &CheckResult{Status: StatusCritical, Error: err.Error()}
	}
	if result == nil {
		result = &CheckResult{Status: StatusUnknown}
	}
	result.Name = checker.Name()
	result.Duration = time.Since(began)
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return result
}
