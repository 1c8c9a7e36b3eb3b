package broker

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"MarketScreener/internal/domain/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   models.FailCategory
	}{
		{"http 429", http.StatusTooManyRequests, "", models.FailThrottled},
		{"throttle text", http.StatusBadRequest, "request rate limit reached", models.FailThrottled},
		{"provider throttle text", http.StatusBadRequest, "频率太高，请稍后再试", models.FailThrottled},
		{"provider window text", http.StatusBadRequest, "每30秒最多60次", models.FailThrottled},
		{"http 403", http.StatusForbidden, "", models.FailQuota},
		{"quota text", http.StatusBadRequest, "history kline quota exceeded", models.FailQuota},
		{"provider quota text", http.StatusBadRequest, "额度不足，额度会滚动释放", models.FailQuota},
		{"server error", http.StatusBadGateway, "bad gateway", models.FailNetwork},
		{"unrecognized 4xx", http.StatusBadRequest, "malformed symbol", models.FailProtocol},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.status, tc.body); got != tc.want {
				t.Errorf("classify(%d, %q) = %s, want %s", tc.status, tc.body, got, tc.want)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	inner := &Error{Category: models.FailQuota, Op: "series", Err: errors.New("status 403")}
	wrapped := fmt.Errorf("fetch HK.00700: %w", inner)

	cat, ok := Categorize(wrapped)
	if !ok || cat != models.FailQuota {
		t.Errorf("Categorize = (%s, %v), want (quota_exhausted, true)", cat, ok)
	}

	if _, ok := Categorize(errors.New("plain")); ok {
		t.Error("plain error must not carry a category")
	}
}

func TestRetryable(t *testing.T) {
	if !models.FailThrottled.Retryable() || !models.FailNetwork.Retryable() {
		t.Error("throttled and network failures should be retryable")
	}
	if models.FailQuota.Retryable() || models.FailProtocol.Retryable() {
		t.Error("quota and protocol failures must not be retried")
	}
}
