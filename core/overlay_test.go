package core

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

func TestEnvelopeVerifierDedupe(t *testing.T) {
	v := &envelopeVerifier{
		limiters: make(map[peer.ID]*rate.Limiter),
		seen:     make(map[string]time.Time),
	}
	now := time.Now()
	if v.dedupe("sig-a", now) {
		t.Fatalf("first sighting should not be a duplicate")
	}
	if !v.dedupe("sig-a", now) {
		t.Fatalf("second sighting within window should be a duplicate")
	}
	if v.dedupe("sig-a", now.Add(replayWindow+time.Second)) {
		t.Fatalf("sighting after window expiry should not be a duplicate")
	}
}

func TestEnvelopeVerifierRateLimit(t *testing.T) {
	v := &envelopeVerifier{
		limiters: make(map[peer.ID]*rate.Limiter),
		seen:     make(map[string]time.Time),
	}
	p := peer.ID("test-peer")
	allowed := 0
	for i := 0; i < defaultRateBurst+5; i++ {
		if v.limiterFor(p).Allow() {
			allowed++
		}
	}
	if allowed > defaultRateBurst {
		t.Fatalf("expected at most %d allowed bursts, got %d", defaultRateBurst, allowed)
	}
}
