package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedDriver fails a fixed number of times before succeeding.
type scriptedDriver struct {
	failures int
	failWith func(n int) error
	calls    int
}

func (d *scriptedDriver) Navigate(ctx context.Context, url string) (string, error) {
	d.calls++
	if d.calls <= d.failures {
		return "", d.failWith(d.calls)
	}
	return "<html>ok</html>", nil
}

func (d *scriptedDriver) Download(ctx context.Context, url string) ([]byte, string, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, "", d.failWith(d.calls)
	}
	return []byte("data"), "image/jpeg", nil
}

func (d *scriptedDriver) Close() error { return nil }

func testOptions(maxRetries int) Options {
	return Options{
		MaxRetries: maxRetries,
		Backoff:    time.Millisecond,
	}
}

func TestNavigate_RetriesTransientThenSucceeds(t *testing.T) {
	driver := &scriptedDriver{
		failures: 2,
		failWith: func(n int) error { return Transient(fmt.Errorf("timeout %d", n)) },
	}
	client := NewClient(driver, testOptions(3))

	html, err := client.Navigate(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if html != "<html>ok</html>" {
		t.Fatalf("unexpected html %q", html)
	}
	if driver.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", driver.calls)
	}
}

func TestNavigate_ExhaustsAttemptBudget(t *testing.T) {
	driver := &scriptedDriver{
		failures: 10,
		failWith: func(n int) error { return Transient(errors.New("connection reset")) },
	}
	client := NewClient(driver, testOptions(3))

	_, err := client.Navigate(context.Background(), "https://example.com/a")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if driver.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", driver.calls)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Kind != KindTransient {
		t.Fatalf("expected transient kind, got %s", fe.Kind)
	}
	if fe.Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", fe.Attempts)
	}
}

func TestNavigate_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	driver := &scriptedDriver{
		failures: 10,
		failWith: func(n int) error { return Transient(errors.New("boom")) },
	}
	client := NewClient(driver, testOptions(0))

	_, err := client.Navigate(context.Background(), "https://example.com/a")
	if err == nil {
		t.Fatal("expected error")
	}
	if driver.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", driver.calls)
	}
}

func TestNavigate_PermanentFailureNotRetried(t *testing.T) {
	driver := &scriptedDriver{
		failures: 10,
		failWith: func(n int) error { return Permanent(errors.New("status 404")) },
	}
	client := NewClient(driver, testOptions(5))

	_, err := client.Navigate(context.Background(), "https://example.com/gone")
	if err == nil {
		t.Fatal("expected error")
	}
	if driver.calls != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", driver.calls)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Kind != KindPermanent {
		t.Fatalf("expected permanent kind, got %s", fe.Kind)
	}
}

func TestNavigate_FatalFailureSurfacesImmediately(t *testing.T) {
	driver := &scriptedDriver{
		failures: 10,
		failWith: func(n int) error { return Fatal(errors.New("browser crashed")) },
	}
	client := NewClient(driver, testOptions(5))

	_, err := client.Navigate(context.Background(), "https://example.com/a")
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if driver.calls != 1 {
		t.Fatalf("fatal failure must not be retried, got %d attempts", driver.calls)
	}
}

func TestDownload_RetriesTransient(t *testing.T) {
	driver := &scriptedDriver{
		failures: 1,
		failWith: func(n int) error { return Transient(errors.New("rate limited (status 429)")) },
	}
	client := NewClient(driver, testOptions(2))

	body, contentType, err := client.Download(context.Background(), "https://example.com/p.jpg")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(body) != "data" || contentType != "image/jpeg" {
		t.Fatalf("unexpected download result %q %q", body, contentType)
	}
	if driver.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", driver.calls)
	}
}

func TestNavigate_CanceledContextStopsRetryLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	driver := &scriptedDriver{
		failures: 10,
		failWith: func(n int) error {
			cancel()
			return Transient(errors.New("interrupted"))
		},
	}
	client := NewClient(driver, Options{MaxRetries: 5, Backoff: time.Minute})

	start := time.Now()
	_, err := client.Navigate(ctx, "https://example.com/a")
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("retry loop ignored cancellation, took %s", elapsed)
	}
	if driver.calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", driver.calls)
	}
}

func TestKindOf_UnclassifiedIsTransient(t *testing.T) {
	if kind := KindOf(errors.New("some network thing")); kind != KindTransient {
		t.Fatalf("expected transient, got %s", kind)
	}
	if kind := KindOf(context.Canceled); kind != KindPermanent {
		t.Fatalf("expected permanent for cancellation, got %s", kind)
	}
}
