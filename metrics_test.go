package tokenlife

import (
	"context"
	"testing"
)

func TestEngineMetricsDisabledByDefault(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	if _, err := engine.Login(context.Background(), Identity{Subject: "u1"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	for id, v := range snap.Counters {
		if v != 0 {
			t.Fatalf("counter %d = %d with metrics disabled", id, v)
		}
	}
}

func TestEngineMetricsCounters(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine := buildTestEngine(t, engineOpts{cfg: cfg})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := engine.Validate(ctx, pair.AccessToken, "u1"); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_, _ = engine.Validate(ctx, "garbage", "")
	_, _ = engine.Validate(ctx, pair.AccessToken, "u2")
	_, _ = engine.LoginByName(ctx, "carol")
	if err := engine.Logout(ctx, "u1"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	_, _ = engine.Validate(ctx, pair.AccessToken, "u1")

	snap := engine.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricLoginSuccess:            1,
		MetricLoginFailure:            1,
		MetricLoginAccountUnavailable: 1,
		MetricAccessIssued:            2,
		MetricRefreshIssued:           1,
		MetricRefreshSuccess:          1,
		MetricValidateMalformed:       1,
		MetricValidateSubjectMismatch: 1,
		MetricValidateRevoked:         1,
		MetricLogout:                  1,
	}
	for id, v := range want {
		if got := snap.Counters[id]; got != v {
			t.Fatalf("counter %d = %d, want %d", id, got, v)
		}
	}
	// Refresh checks its token inside the flow and records no latency.
	var observed uint64
	for _, n := range snap.Histograms[MetricValidateLatency] {
		observed += n
	}
	if observed != 4 {
		t.Fatalf("expected 4 latency observations, got %d", observed)
	}
}
