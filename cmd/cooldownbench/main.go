// Command cooldownbench compares cooldown lookups backed by the database
// against the redis tracker, using the same author distribution a busy feed
// produces: a small set of frequent posters plus a long tail.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/internal/cooldown"
	"github.com/d60-Lab/ghostreply/internal/repository"
	"github.com/d60-Lab/ghostreply/pkg/database"
)

type scenarioResult struct {
	name      string
	durations []time.Duration
	active    int
}

func main() {
	ctx := context.Background()

	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	defer func() { _ = database.Close(db) }()

	authors := envInt("AUTHORS", 5000)
	lookups := envInt("LOOKUPS", 20000)
	conc := envInt("CONC", 4)
	window := cfg.Monitor.Cooldown

	redisAddr := cfg.Redis.Addr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer client.Close()
	mustDo(client.Ping(ctx).Err())

	trackers := []struct {
		name string
		t    cooldown.Tracker
	}{
		{"db(" + cfg.Database.Driver + ")", cooldown.NewDBTracker(repository.NewCooldownRepository(db), window)},
		{"redis", cooldown.NewRedisTracker(client, window)},
	}

	handles := makeHandles(authors)
	// 一半作者在冷却期内，另一半已过期
	fmt.Printf("Seeding %d authors into each tracker...\n", authors)
	now := time.Now()
	for _, tr := range trackers {
		for i, h := range handles {
			at := now.Add(-window / 4)
			if i%2 == 1 {
				at = now.Add(-2 * window)
			}
			mustDo(tr.t.Touch(ctx, h, at))
		}
	}

	reqs := makeLookups(handles, lookups)
	results := make([]scenarioResult, 0, len(trackers))
	for _, tr := range trackers {
		fmt.Printf("Running %s (%d lookups, conc=%d)...", tr.name, len(reqs), conc)
		results = append(results, run(ctx, tr.name, tr.t, reqs, conc))
		fmt.Println(" done")
	}

	fmt.Println()
	fmt.Printf("%-18s %10s %10s %10s %10s %8s\n", "tracker", "avg", "p50", "p95", "p99", "active")
	for _, r := range results {
		fmt.Printf("%-18s %10s %10s %10s %10s %8d\n",
			r.name, avg(r.durations), pct(r.durations, 0.50), pct(r.durations, 0.95), pct(r.durations, 0.99), r.active)
	}
}

func run(ctx context.Context, name string, t cooldown.Tracker, reqs []string, conc int) scenarioResult {
	var (
		mu     sync.Mutex
		out    = make([]time.Duration, 0, len(reqs))
		active int
		wg     sync.WaitGroup
	)
	ch := make(chan string)
	for w := 0; w < conc; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range ch {
				start := time.Now()
				ok, err := t.Active(ctx, h)
				d := time.Since(start)
				mustDo(err)
				mu.Lock()
				out = append(out, d)
				if ok {
					active++
				}
				mu.Unlock()
			}
		}()
	}
	for _, h := range reqs {
		ch <- h
	}
	close(ch)
	wg.Wait()
	return scenarioResult{name: name, durations: out, active: active}
}

func makeHandles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "bench_author_" + strconv.Itoa(i)
	}
	return out
}

// makeLookups 20% 的作者贡献 80% 的推文
func makeLookups(handles []string, n int) []string {
	rnd := rand.New(rand.NewSource(42))
	hot := len(handles) / 5
	if hot == 0 {
		hot = 1
	}
	out := make([]string, n)
	for i := range out {
		if rnd.Float64() < 0.8 {
			out[i] = handles[rnd.Intn(hot)]
		} else {
			out[i] = "@" + handles[rnd.Intn(len(handles))]
		}
	}
	return out
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
