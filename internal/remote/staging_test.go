package remote

import (
	"testing"
	"time"
)

func TestPublicLinkExpiry(t *testing.T) {
	now := time.Unix(5000, 0)

	forever := &PublicLink{CTime: 1000}
	if forever.ExpiredAt(now) {
		t.Error("link without an expiry never expires")
	}

	expired := &PublicLink{CTime: 1000, ETime: 4000}
	if !expired.ExpiredAt(now) {
		t.Error("past expiry should report expired")
	}
	if expired.ExpiredAt(time.Unix(3999, 0)) {
		t.Error("future expiry should not report expired")
	}
	// expiry boundary is inclusive
	if !expired.ExpiredAt(time.Unix(4000, 0)) {
		t.Error("a link expires at its expiry instant")
	}
}
