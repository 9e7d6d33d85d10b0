package store

import (
	"context"
	"crypto/subtle"
	"hash/maphash"
	"sort"
	"sync"
	"time"
)

const memoryShards = 64

type accessEntry struct {
	fp        Fingerprint
	expiresAt time.Time
}

// record is the state of one identity. mu is held across every
// read-modify-write so concurrent appends never lose an entry.
type record struct {
	mu         sync.Mutex
	epoch      uint64
	access     []accessEntry
	refresh    Fingerprint
	hasRefresh bool
}

type shard struct {
	mu      sync.Mutex
	records map[string]*record
}

// Memory is an in-process [Store]. Records live for the lifetime of the
// process; restarting it forgets every registration, which revokes all
// outstanding tokens.
//
// A record is never removed once created, even when its access and refresh
// state is empty: its epoch fences issuers that read it before a logout.
// Terminate creates a record for a subject it has not seen for the same
// reason. Memory use therefore grows with the number of distinct subjects,
// so deployments with an open-ended subject set should use the redis or
// postgres backend.
type Memory struct {
	seed   maphash.Seed
	shards [memoryShards]shard
	max    int
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts Options) *Memory {
	m := &Memory{
		seed: maphash.MakeSeed(),
		max:  opts.MaxAccessTokens,
		now:  opts.Clock(),
	}
	for i := range m.shards {
		m.shards[i].records = make(map[string]*record)
	}
	return m
}

// lookup returns the record for subject. The shard lock only guards the map;
// it is released before the caller touches the record.
func (m *Memory) lookup(subject string, create bool) *record {
	sh := &m.shards[maphash.String(m.seed, subject)%memoryShards]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[subject]
	if !ok && create {
		rec = &record{}
		sh.records[subject] = rec
	}
	return rec
}

func (m *Memory) Epoch(ctx context.Context, subject string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec := m.lookup(subject, false)
	if rec == nil {
		return 0, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.epoch, nil
}

func (m *Memory) AppendAccess(ctx context.Context, subject string, epoch uint64, fp Fingerprint, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := m.lookup(subject, true)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.epoch != epoch {
		return ErrTerminated
	}

	for _, e := range rec.access {
		if e.fp == fp {
			return nil
		}
	}

	now := m.now()
	kept := rec.access[:0]
	for _, e := range rec.access {
		if now.Before(e.expiresAt) {
			kept = append(kept, e)
		}
	}

	// Keep the slice ordered by expiry; with a fixed TTL this is an append.
	i := sort.Search(len(kept), func(i int) bool { return kept[i].expiresAt.After(expiresAt) })
	kept = append(kept, accessEntry{})
	copy(kept[i+1:], kept[i:])
	kept[i] = accessEntry{fp: fp, expiresAt: expiresAt}

	if m.max > 0 && len(kept) > m.max {
		kept = append(kept[:0], kept[len(kept)-m.max:]...)
	}
	rec.access = kept
	return nil
}

func (m *Memory) ReplaceRefresh(ctx context.Context, subject string, epoch uint64, fp Fingerprint, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := m.lookup(subject, true)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.epoch != epoch {
		return ErrTerminated
	}
	rec.refresh = fp
	rec.hasRefresh = true
	return nil
}

func (m *Memory) HasAccess(ctx context.Context, subject string, fp Fingerprint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec := m.lookup(subject, false)
	if rec == nil {
		return false, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.access {
		if e.fp == fp {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RefreshMatches(ctx context.Context, subject string, fp Fingerprint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec := m.lookup(subject, false)
	if rec == nil {
		return false, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.hasRefresh {
		return false, nil
	}
	return subtle.ConstantTimeCompare(rec.refresh[:], fp[:]) == 1, nil
}

func (m *Memory) AccessCount(ctx context.Context, subject string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec := m.lookup(subject, false)
	if rec == nil {
		return 0, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := m.now()
	n := 0
	for _, e := range rec.access {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Terminate(ctx context.Context, subject string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec := m.lookup(subject, true)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.epoch++
	rec.access = nil
	rec.refresh = Fingerprint{}
	rec.hasRefresh = false
	return rec.epoch, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}
