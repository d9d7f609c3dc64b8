// Command authcore-loadtest measures login and refresh latency and checks
// the rotation invariants under concurrency: at most one live refresh
// record per family, and exactly one winner when the same token is
// presented concurrently.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loadPassword = "Load-Test-Password-1"

type client struct {
	email string
	pair  *authcore.TokenPair
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of users to seed and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		rounds      = flag.Int("rounds", 20, "sequential refreshes per user")
		racers      = flag.Int("racers", 4, "goroutines presenting the same token in the race phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *rounds <= 0 || *racers < 2 {
		fmt.Fprintln(os.Stderr, "users, concurrency and rounds must be > 0; racers must be >= 2")
		os.Exit(2)
	}

	ctx := context.Background()
	rdb, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	engine, audit, err := buildEngine(rdb, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	clients := make([]client, *users)
	for i := range clients {
		clients[i].email = fmt.Sprintf("load-%d@example.com", i)
	}

	loginStats := runLoginPhase(ctx, engine, clients, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, clients, *rounds, *concurrency)
	liveViolations := checkSingleLiveRecord(ctx, refresh.NewStore(rdb), clients)
	raceStats, winnerViolations := runRacePhase(ctx, engine, clients, *racers, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh", refreshStats)
	printStats("race", raceStats)
	fmt.Printf("audit events: %d\n", audit.count.Load())
	fmt.Printf("families with more than one live record: %d\n", liveViolations)
	fmt.Printf("races without exactly one winner: %d\n", winnerViolations)

	if liveViolations > 0 || winnerViolations > 0 {
		os.Exit(1)
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// countingAudit accepts every event; the load test measures the engine,
// not an audit backend.
type countingAudit struct {
	count atomic.Int64
}

func (a *countingAudit) Record(context.Context, authcore.SecurityEvent) error {
	a.count.Add(1)
	return nil
}

func buildEngine(rdb redis.UniversalClient, users int) (*authcore.Engine, *countingAudit, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.LoginPerIP = 0
	cfg.Metrics.Enabled = true

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, nil, err
	}

	store := userstore.NewMemory()
	for i := 0; i < users; i++ {
		if err := store.Put(authcore.UserRecord{
			UserID:       fmt.Sprintf("load-user-%d", i),
			Email:        fmt.Sprintf("load-%d@example.com", i),
			PasswordHash: hash,
			Roles:        []string{"user"},
		}); err != nil {
			return nil, nil, err
		}
	}

	audit := &countingAudit{}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(store).
		WithAuditLog(audit).
		WithLogger(zap.NewNop()).
		Build()
	return engine, audit, err
}

// forEach runs fn over [0,n) on concurrency workers and collects one
// latency sample per call.
func forEach(n, concurrency int, fn func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				t0 := time.Now()
				err := fn(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runLoginPhase(ctx context.Context, engine *authcore.Engine, clients []client, concurrency int) phaseStats {
	return forEach(len(clients), concurrency, func(i int) error {
		res, err := engine.Login(ctx, clients[i].email, loadPassword)
		if err != nil {
			return err
		}
		pair := res.TokenPair
		clients[i].pair = &pair
		return nil
	})
}

func runRefreshPhase(ctx context.Context, engine *authcore.Engine, clients []client, rounds, concurrency int) phaseStats {
	// Each index owns one client; a client's refreshes stay sequential.
	return forEach(len(clients), concurrency, func(i int) error {
		c := &clients[i]
		if c.pair == nil {
			return errors.New("not logged in")
		}
		for r := 0; r < rounds; r++ {
			next, err := engine.Refresh(ctx, c.pair.RefreshToken)
			if err != nil {
				return err
			}
			c.pair = next
		}
		return nil
	})
}

func checkSingleLiveRecord(ctx context.Context, store *refresh.Store, clients []client) int {
	violations := 0
	for _, c := range clients {
		if c.pair == nil {
			continue
		}
		records, err := store.Records(ctx, c.pair.FamilyID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "records for %s: %v\n", c.pair.FamilyID, err)
			violations++
			continue
		}
		live := 0
		for _, r := range records {
			if !r.Revoked {
				live++
			}
		}
		if live > 1 {
			violations++
		}
	}
	return violations
}

// runRacePhase presents each client's current token from several
// goroutines at once. Exactly one must rotate; the rest must see reuse.
func runRacePhase(ctx context.Context, engine *authcore.Engine, clients []client, racers, concurrency int) (phaseStats, int) {
	var violations atomic.Int64
	stats := forEach(len(clients), concurrency, func(i int) error {
		c := &clients[i]
		if c.pair == nil {
			return errors.New("not logged in")
		}
		var (
			wg      sync.WaitGroup
			winners atomic.Int64
			start   = make(chan struct{})
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := engine.Refresh(ctx, c.pair.RefreshToken); err == nil {
					winners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if winners.Load() != 1 {
			violations.Add(1)
			return fmt.Errorf("%d winners", winners.Load())
		}
		return nil
	})
	return stats, int(violations.Load())
}
