package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"catalog_etl/config"
	"catalog_etl/models"
)

// Reason classifies why a fetch attempt failed.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonHTTPStatus Reason = "http_status"
	ReasonNetwork    Reason = "network"
	ReasonDecode     Reason = "decode"
	ReasonCanceled   Reason = "canceled"
)

// OutcomeSuccess is the Attempt outcome of a request that returned records.
const OutcomeSuccess = "success"

// FetchError is returned once the fetcher gives up.
type FetchError struct {
	Reason     Reason
	StatusCode int
	Attempts   int
	Err        error

	permanent bool
}

func (e *FetchError) Error() string {
	msg := string(e.Reason)
	if e.Reason == ReasonHTTPStatus {
		msg = fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "fetch failed: " + msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	if e.permanent {
		return false
	}
	switch e.Reason {
	case ReasonTimeout, ReasonHTTPStatus, ReasonNetwork:
		return true
	}
	return false
}

// Attempt describes one request made by Fetch.
type Attempt struct {
	Number      int
	MaxAttempts int
	Outcome     string
	StatusCode  int
	Records     int
	Duration    time.Duration
	Backoff     time.Duration // wait before the next attempt, zero if none
	Err         error
}

// AttemptFunc receives every attempt, successful or not.
type AttemptFunc func(Attempt)

type Fetcher struct {
	cfg    config.SourceConfig
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg config.SourceConfig, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Fetcher{
		cfg:    cfg,
		client: client,
		sleep:  sleepContext,
	}
}

// SetSleep replaces the backoff wait, mainly so tests do not block.
func (f *Fetcher) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	f.sleep = fn
}

// Fetch retrieves the product list, retrying timeouts, transport failures
// and non-2xx responses with exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, onAttempt AttemptFunc) ([]models.RawRecord, error) {
	if onAttempt == nil {
		onAttempt = func(Attempt) {}
	}

	maxAttempts := f.cfg.MaxAttempts
	var lastErr *FetchError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		records, ferr := f.fetchOnce(ctx)

		a := Attempt{
			Number:      attempt,
			MaxAttempts: maxAttempts,
			Duration:    time.Since(start),
		}

		if ferr == nil {
			a.Outcome = OutcomeSuccess
			a.StatusCode = http.StatusOK
			a.Records = len(records)
			onAttempt(a)
			return records, nil
		}

		ferr.Attempts = attempt
		a.Outcome = string(ferr.Reason)
		a.StatusCode = ferr.StatusCode
		a.Err = ferr

		if !ferr.Retryable() {
			onAttempt(a)
			return nil, ferr
		}

		lastErr = ferr
		if attempt == maxAttempts {
			onAttempt(a)
			break
		}

		a.Backoff = f.backoff(attempt)
		onAttempt(a)

		if err := f.sleep(ctx, a.Backoff); err != nil {
			return nil, &FetchError{Reason: ReasonCanceled, Attempts: attempt, Err: err}
		}
	}

	return nil, lastErr
}

// maxBackoff caps a single wait between attempts.
const maxBackoff = 5 * time.Minute

// backoff doubles the base delay for every attempt already made.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		if d >= maxBackoff/2 {
			return maxBackoff
		}
		d *= 2
	}
	return d
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]models.RawRecord, *FetchError) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetwork, Err: fmt.Errorf("create request: %w", err), permanent: true}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit+1))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			Reason:     ReasonHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("source returned %d: %s", resp.StatusCode, snippet(body)),
		}
	}
	if readErr != nil {
		return nil, classify(ctx, fmt.Errorf("read body: %w", readErr))
	}
	if int64(len(body)) > limit {
		return nil, &FetchError{Reason: ReasonDecode, StatusCode: resp.StatusCode, Err: fmt.Errorf("response exceeds %d bytes", limit)}
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, &FetchError{Reason: ReasonDecode, StatusCode: resp.StatusCode, Err: err}
	}
	return records, nil
}

func classify(ctx context.Context, err error) *FetchError {
	if ctx.Err() != nil {
		return &FetchError{Reason: ReasonCanceled, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Reason: ReasonTimeout, Err: err}
	}
	return &FetchError{Reason: ReasonNetwork, Err: err}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
