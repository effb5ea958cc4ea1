// Command go2fa-loadtest drives the Redis token store with concurrent
// session lookups, refresh rotations and temporary-token claims.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type sessionState struct {
	id   string
	hash [32]byte
	mu   sync.Mutex
}

// op runs one operation for worker on iteration i, using r for selection.
type op func(ctx context.Context, r *rand.Rand, worker, i int) error

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of refresh sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", redisstore.DefaultPrefix, "key prefix")
		maxAttempts = flag.Int("max-attempts", 5, "temporary token attempt cap")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *maxAttempts <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops and max-attempts must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	tokens := redisstore.New(client, *prefix)

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		states[i] = sessionState{id: fmt.Sprintf("lt-%d", i), hash: digest(uint64(i))}
		now := time.Now()
		err := tokens.CreateRefreshSession(ctx, &store.RefreshSession{
			ID:         states[i].id,
			AccountID:  fmt.Sprintf("acct-%d", i%1024),
			SecretHash: states[i].hash,
			IssuedAt:   now,
			ExpiresAt:  now.Add(24 * time.Hour),
		}, time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := func(ctx context.Context, r *rand.Rand, _, _ int) error {
		_, err := tokens.RefreshSession(ctx, states[r.Intn(len(states))].id)
		return err
	}

	rotate := func(ctx context.Context, r *rand.Rand, worker, i int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		next := digest(uint64(i)<<16 | uint64(worker))
		if _, err := tokens.RotateRefreshSession(ctx, state.id, state.hash, next, time.Now()); err != nil {
			return err
		}
		state.hash = next
		return nil
	}

	// claim models one failed second-factor attempt followed by a release.
	claim := func(ctx context.Context, _ *rand.Rand, worker, i int) error {
		key := fmt.Sprintf("%x", digest(uint64(worker)<<32|uint64(i)))
		now := time.Now()
		err := tokens.SaveTemporaryToken(ctx, key, &store.TemporaryToken{
			AccountID: "acct-claim",
			IssuedAt:  now,
			ExpiresAt: now.Add(5 * time.Minute),
		}, 10*time.Minute)
		if err != nil {
			return err
		}
		if _, err := tokens.ClaimTemporaryToken(ctx, key, now); err != nil {
			return err
		}
		_, err = tokens.ReleaseTemporaryToken(ctx, key, *maxAttempts)
		return err
	}

	results := []struct {
		name  string
		stats phaseStats
	}{
		{"lookup", runPhase(ctx, lookup, *ops, *concurrency)},
		{"rotate", runPhase(ctx, rotate, *ops, *concurrency)},
		{"claim", runPhase(ctx, claim, *ops, *concurrency)},
	}

	fmt.Println("---- results ----")
	for _, res := range results {
		printStats(res.name, res.stats)
	}
}

func runPhase(ctx context.Context, fn op, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := fn(ctx, r, worker, i); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-7s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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

func digest(n uint64) [32]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return sha256.Sum256(b[:])
}
