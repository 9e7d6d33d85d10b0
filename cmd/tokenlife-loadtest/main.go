package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tokenlife"
	"github.com/MrEthical07/tokenlife/internal/logx"
	"github.com/MrEthical07/tokenlife/keys"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		identities  = flag.Int("identities", 1000, "number of identities to log in")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "tl-load", "redis key prefix")
		algorithm   = flag.String("algorithm", keys.AlgorithmES256, "signature algorithm")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	if err := run(*identities, *concurrency, *ops, *redisAddr, *prefix, *algorithm); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(identities, concurrency, ops int, addr, prefix, algorithm string) error {
	ctx := context.Background()

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := tokenlife.DefaultConfig()
	cfg.Keys.Algorithm = algorithm
	cfg.Store.Backend = tokenlife.StoreRedis
	cfg.Store.RedisPrefix = prefix
	cfg.JWT.AccessTTL = time.Hour

	subjects := make([]string, identities)
	accounts := make([]tokenlife.Account, identities)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("load-%d", i)
		accounts[i] = tokenlife.Account{Subject: subjects[i], LoginName: subjects[i], Roles: []string{"member"}, Enabled: true}
	}

	engine, err := tokenlife.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(tokenlife.NewStaticDirectory(accounts...)).
		WithLogger(logx.New(logx.Config{Service: "tokenlife-loadtest", Level: "warn", Format: "text"})).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("logging in %d identities...\n", identities)
	refresh := make([]string, identities)
	start := time.Now()
	for i, sub := range subjects {
		pair, err := engine.Login(ctx, tokenlife.Identity{Subject: sub})
		if err != nil {
			return fmt.Errorf("login %s: %w", sub, err)
		}
		refresh[i] = pair.RefreshToken
	}
	fmt.Printf("logged in in %s\n", time.Since(start).Round(time.Millisecond))

	var (
		issuedMu sync.Mutex
		issued   = make(map[string][]string, identities)
	)
	issueStats := runPhase(ops, concurrency, func(r *rand.Rand) error {
		sub := subjects[r.IntN(len(subjects))]
		tok, err := engine.IssueAccessToken(ctx, tokenlife.Identity{Subject: sub})
		if err != nil {
			return err
		}
		issuedMu.Lock()
		issued[sub] = append(issued[sub], tok)
		issuedMu.Unlock()
		return nil
	})

	lost, err := countLost(ctx, engine, issued)
	if err != nil {
		return err
	}

	all := flatten(issued)
	validateStats := runPhase(ops, concurrency, func(r *rand.Rand) error {
		_, err := engine.Validate(ctx, all[r.IntN(len(all))], "")
		return err
	})

	refreshStats := runPhase(ops, concurrency, func(r *rand.Rand) error {
		_, err := engine.Refresh(ctx, refresh[r.IntN(len(refresh))])
		return err
	})

	survivors, err := logoutRace(ctx, engine, subjects, concurrency)
	if err != nil {
		return err
	}

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	fmt.Printf("lost registrations=%d tokens surviving logout=%d audit_dropped=%d\n", lost, survivors, engine.AuditDropped())

	if lost > 0 || survivors > 0 {
		return fmt.Errorf("consistency check failed")
	}
	return nil
}

// countLost validates every issued access token; each must still be live.
func countLost(ctx context.Context, engine *tokenlife.Engine, issued map[string][]string) (int, error) {
	lost := 0
	for sub, toks := range issued {
		for _, tok := range toks {
			if _, err := engine.Validate(ctx, tok, sub); err != nil {
				if _, ok := tokenlife.KindOf(err); !ok {
					return 0, err
				}
				lost++
			}
		}
	}
	return lost, nil
}

// logoutRace logs every identity out while workers keep issuing, then logs
// out once more and counts tokens that still validate.
func logoutRace(ctx context.Context, engine *tokenlife.Engine, subjects []string, concurrency int) (int, error) {
	var (
		wg      sync.WaitGroup
		stop    atomic.Bool
		mu      sync.Mutex
		minted  []string
		mintErr atomic.Int64
	)
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
			for !stop.Load() {
				sub := subjects[r.IntN(len(subjects))]
				tok, err := engine.IssueAccessToken(ctx, tokenlife.Identity{Subject: sub})
				if err != nil {
					mintErr.Add(1)
					continue
				}
				mu.Lock()
				minted = append(minted, tok)
				mu.Unlock()
			}
		}()
	}

	for _, sub := range subjects {
		if err := engine.Logout(ctx, sub); err != nil {
			stop.Store(true)
			wg.Wait()
			return 0, err
		}
	}
	stop.Store(true)
	wg.Wait()

	for _, sub := range subjects {
		if err := engine.Logout(ctx, sub); err != nil {
			return 0, err
		}
	}

	survivors := 0
	for _, tok := range minted {
		if _, err := engine.Validate(ctx, tok, ""); err == nil {
			survivors++
		}
	}
	slog.Debug("logout race", slog.Int("minted", len(minted)), slog.Int64("refused", mintErr.Load()))
	return survivors, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func flatten(m map[string][]string) []string {
	var out []string
	for _, toks := range m {
		out = append(out, toks...)
	}
	return out
}
