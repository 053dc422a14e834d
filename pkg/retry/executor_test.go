package retry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func testPolicy(maxRetries int) Policy {
	p := DefaultPolicy()
	p.MaxRetries = maxRetries
	p.InitialDelay = 100 * time.Millisecond
	p.MaxDelay = 10 * time.Second
	p.Multiplier = 2
	return p
}

func newTestExecutor(t *testing.T, p Policy) (*Executor, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	e, err := NewExecutor(p, WithSleeper(sleeper.Sleep))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return e, sleeper
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExecute_SucceedsImmediately(t *testing.T) {
	e, sleeper := newTestExecutor(t, testPolicy(3))

	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(sleeper.Waits()) != 0 {
		t.Errorf("waits = %v, want none", sleeper.Waits())
	}
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	e, sleeper := newTestExecutor(t, testPolicy(2))

	serverErr := NewStatusError(http.StatusInternalServerError, nil)
	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		return serverErr
	})

	if err != serverErr {
		t.Errorf("Execute() error = %v, want the 500 error itself", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if got := sleeper.Waits(); !equalDurations(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
}

func TestExecute_SucceedsAfterRetry(t *testing.T) {
	e, sleeper := newTestExecutor(t, testPolicy(2))

	calls := 0
	got, err := Do(context.Background(), e, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewStatusError(http.StatusInternalServerError, nil)
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want %q", got, "ok")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if waits := sleeper.Waits(); len(waits) != 1 {
		t.Errorf("waits = %v, want exactly one", waits)
	}
}

// counterValue reads the retry counter for an executor and error class.
func counterValue(t *testing.T, executor string, class ErrorClass) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := retriesTotal.WithLabelValues(executor, string(class)).Write(m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestWithName_LabelsMetrics(t *testing.T) {
	sleeper := &recordingSleeper{}
	named, err := NewExecutor(testPolicy(2), WithSleeper(sleeper.Sleep), WithName("catalog-test"))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	if named.Name() != "catalog-test" {
		t.Errorf("Name() = %q, want catalog-test", named.Name())
	}
	if e, _ := newTestExecutor(t, testPolicy(1)); e.Name() != DefaultName {
		t.Errorf("default Name() = %q, want %q", e.Name(), DefaultName)
	}

	before := counterValue(t, "catalog-test", ErrorClassServer)
	_ = named.Execute(context.Background(), func(context.Context) error {
		return NewStatusError(http.StatusServiceUnavailable, nil)
	})
	if got := counterValue(t, "catalog-test", ErrorClassServer) - before; got != 2 {
		t.Errorf("retries for catalog-test = %v, want 2", got)
	}
}

func TestExecute_PermanentFailure(t *testing.T) {
	e, sleeper := newTestExecutor(t, testPolicy(5))

	notFound := NewStatusError(http.StatusNotFound, errors.New("no such product"))
	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		return notFound
	})

	if !errors.Is(err, notFound) {
		t.Errorf("Execute() error = %v, want %v", err, notFound)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(sleeper.Waits()) != 0 {
		t.Errorf("waits = %v, want none", sleeper.Waits())
	}
}

func TestExecute_NetworkErrorIsRetried(t *testing.T) {
	e, _ := newTestExecutor(t, testPolicy(1))

	netErr := errors.New("connection refused")
	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		return netErr
	})

	if err != netErr {
		t.Errorf("Execute() error = %v, want %v", err, netErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecute_ReturnsLastError(t *testing.T) {
	e, _ := newTestExecutor(t, testPolicy(2))

	errs := []error{
		errors.New("first"),
		NewStatusError(http.StatusServiceUnavailable, nil),
		NewStatusError(http.StatusBadGateway, nil),
	}
	calls := 0
	err := e.Execute(context.Background(), func(context.Context) error {
		err := errs[calls]
		calls++
		return err
	})

	if err != errs[2] {
		t.Errorf("Execute() error = %v, want last error %v", err, errs[2])
	}
}

func TestExecute_ZeroRetries(t *testing.T) {
	e, _ := newTestExecutor(t, testPolicy(0))

	calls := 0
	_ = e.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_DelayCappedAtMaxDelay(t *testing.T) {
	p := testPolicy(5)
	p.InitialDelay = 1 * time.Second
	p.MaxDelay = 3 * time.Second
	e, sleeper := newTestExecutor(t, p)

	_ = e.Execute(context.Background(), func(context.Context) error {
		return errors.New("down")
	})

	want := []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}
	if got := sleeper.Waits(); !equalDurations(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	p := testPolicy(5)
	p.InitialDelay = time.Hour
	p.MaxDelay = time.Hour
	e, err := NewExecutor(p)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	lastErr := errors.New("unreachable")
	calls := 0
	start := time.Now()
	err = e.Execute(ctx, func(context.Context) error {
		calls++
		return lastErr
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want context.DeadlineExceeded", err)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("Execute() error = %v, want it to wrap the last error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute() took %v, backoff did not observe cancellation", elapsed)
	}
}

func TestExecute_RealTimerWaits(t *testing.T) {
	p := testPolicy(2)
	p.InitialDelay = 10 * time.Millisecond
	p.MaxDelay = time.Second
	e, err := NewExecutor(p)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	start := time.Now()
	_ = e.Execute(context.Background(), func(context.Context) error {
		return NewStatusError(http.StatusInternalServerError, nil)
	})
	elapsed := time.Since(start)

	// 10ms + 20ms of backoff.
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 30ms", elapsed)
	}
}

func TestNewExecutor_InvalidPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.Multiplier = 1

	if _, err := NewExecutor(p); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("NewExecutor() error = %v, want ErrInvalidPolicy", err)
	}
}
