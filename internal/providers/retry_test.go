package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("30"); d != 30*time.Second {
		t.Errorf("seconds form = %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty = %v", d)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if d := ParseRetryAfter(future); d < 80*time.Second || d > 90*time.Second {
		t.Errorf("date form = %v", d)
	}
	if d := ParseRetryAfter("garbage"); d != 0 {
		t.Errorf("garbage = %v", d)
	}
}

func TestRetryDoRetriesTransient(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	attempts := 0
	got, err := RetryDo(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", &HTTPError{Status: 500, Body: "overloaded"}
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryDoDoesNotRetryRateLimit(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	attempts := 0
	_, err := RetryDo(context.Background(), cfg, func() (string, error) {
		attempts++
		return "", &HTTPError{Status: 429, Body: "rate limited", RetryAfter: time.Minute}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (rate limits bubble up)", attempts)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited should detect the wrapped HTTPError")
	}
	if RetryAfterHint(err) != time.Minute {
		t.Errorf("RetryAfterHint = %v", RetryAfterHint(err))
	}
}

func TestRetryDoDoesNotRetryClientErrors(t *testing.T) {
	cfg := DefaultRetryConfig()
	attempts := 0
	_, err := RetryDo(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, &HTTPError{Status: 400, Body: "bad request"}
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 400 {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestUsageAdd(t *testing.T) {
	u := &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CacheReadTokens: 3}
	u.Add(&Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, CacheCreationTokens: 4})
	u.Add(nil)
	if u.PromptTokens != 11 || u.CompletionTokens != 7 || u.TotalTokens != 18 {
		t.Errorf("usage = %+v", u)
	}
	if u.CacheReadTokens != 3 || u.CacheCreationTokens != 4 {
		t.Errorf("cache fields = %+v", u)
	}
}
