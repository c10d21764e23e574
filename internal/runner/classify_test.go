package runner

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"blog-content-engine/internal/ai"
)

func TestClassify(t *testing.T) {
	rateLimited := fmt.Errorf("generate article: %w", &ai.HTTPError{StatusCode: 429, Body: "slow down"})
	payment := fmt.Errorf("generate article: %w", &ai.HTTPError{StatusCode: 402, Body: "payment required"})
	quota := fmt.Errorf("generate article: %w", &ai.HTTPError{StatusCode: 429, Body: `{"error":{"code":"insufficient_quota"}}`})
	parse := errors.New("parse article: structured output missing required field \"content\"")

	if Classify(rateLimited) != ClassRateLimited {
		t.Error("429 should classify as rate limited")
	}
	if Classify(payment) != ClassPaymentRequired {
		t.Error("402 should classify as payment required")
	}
	if Classify(quota) != ClassPaymentRequired {
		t.Error("insufficient_quota body should classify as payment required")
	}
	if Classify(parse) != ClassOther {
		t.Error("parse errors are genuine failures")
	}
	if Classify(nil) != ClassOther {
		t.Error("nil errors are not provider conditions")
	}
}

func TestDecide(t *testing.T) {
	if Decide(ClassRateLimited, 0, 5) != ActionHold {
		t.Error("first rate-limit should hold")
	}
	if Decide(ClassRateLimited, 5, 5) != ActionFail {
		t.Error("exhausted holds should fail")
	}
	if Decide(ClassPaymentRequired, 2, 5) != ActionHold {
		t.Error("billing errors hold while budget remains")
	}
	if Decide(ClassOther, 0, 5) != ActionFail {
		t.Error("other errors never hold")
	}
}

func TestHoldDelay(t *testing.T) {
	rl := time.Minute
	pay := 5 * time.Minute
	if HoldDelay(ClassRateLimited, rl, pay) != rl {
		t.Error("rate-limit holds use the short window")
	}
	if HoldDelay(ClassPaymentRequired, rl, pay) != pay {
		t.Error("payment holds use the long window")
	}
}
