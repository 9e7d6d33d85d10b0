// Package metrics provides lock-free counters and a latency histogram for the
// token engine.
//
// Counters live in cache-line-padded uint64 slots incremented with
// [sync/atomic.AddUint64]. The validate latency histogram uses 8 fixed
// buckets (≤5ms … +Inf). Neither allocates on the write path.
//
// Exporters (Prometheus, OTel) live in metrics/export and read [Snapshot]
// values; this package performs no I/O and keeps no global registry.
package metrics
