package broker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"MarketScreener/internal/domain/models"
)

// Error is the structured failure returned by every DataSource method of this
// package. Layers above the boundary inspect Category, never error text.
type Error struct {
	Category models.FailCategory
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker %s (%s): %v", e.Op, e.Category, e.Err)
	}
	return fmt.Sprintf("broker %s (%s)", e.Op, e.Category)
}

func (e *Error) Unwrap() error { return e.Err }

// Categorize extracts the failure category from an error chain. The second
// return is false when the error did not originate at the broker boundary.
func Categorize(err error) (models.FailCategory, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Category, true
	}
	return "", false
}

// quota and throttle phrases seen in gateway error bodies. The upstream only
// returns text for these, so the matching lives here and nowhere else. The
// Chinese phrases are the provider's own wording.
var (
	quotaPhrases    = []string{"quota", "额度不足", "额度会滚动释放"}
	throttlePhrases = []string{"rate limit", "too many requests", "频率太高", "每30秒最多60次"}
)

// classify maps a gateway HTTP status plus response body to a failure
// category. This is the single place upstream text is interpreted.
func classify(status int, body string) models.FailCategory {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests:
		return models.FailThrottled
	case containsAny(lower, throttlePhrases):
		return models.FailThrottled
	case status == http.StatusForbidden, containsAny(lower, quotaPhrases):
		return models.FailQuota
	case status >= http.StatusInternalServerError:
		return models.FailNetwork
	default:
		return models.FailProtocol
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
