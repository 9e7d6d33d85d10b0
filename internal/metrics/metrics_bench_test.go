package metrics

import (
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := New(Config{Enabled: true})
	b.ReportAllocs()
	for b.Loop() {
		m.Inc(MetricValidateSuccess)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := New(Config{Enabled: false})
	b.ReportAllocs()
	for b.Loop() {
		m.Inc(MetricValidateSuccess)
	}
}

func BenchmarkMetricsIncMixedParallel(b *testing.B) {
	m := New(Config{Enabled: true})
	ids := []MetricID{MetricValidateSuccess, MetricAccessIssued, MetricRefreshSuccess, MetricLogout}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Inc(ids[i%len(ids)])
			i++
		}
	})
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := New(Config{Enabled: true, EnableLatency: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		d := 250 * time.Microsecond
		for pb.Next() {
			m.Observe(MetricValidateLatency, d)
		}
	})
}
