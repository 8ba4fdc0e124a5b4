// Command benchmark drives concurrent transfers against a running API
// instance. It needs a bearer token for the sending account and a pool of
// receiver account numbers to spread load across.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	token       string
	receivers   string
	amount      string
	concurrency int
	duration    time.Duration
	workload    string
)

var (
	totalRequests uint64
	successOK     uint64
	fail409       uint64
	fail422       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	flag.StringVar(&token, "token", "", "Bearer token of the sending account (required)")
	flag.StringVar(&receivers, "receivers", "", "Comma-separated receiver account numbers (required)")
	flag.StringVar(&amount, "amount", "1.00", "Amount per transfer")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	if token == "" || receivers == "" {
		flag.Usage()
		os.Exit(1)
	}
	pool := strings.Split(receivers, ",")

	log.Printf("Starting benchmark: %s | workers: %d | duration: %s | receivers: %d",
		workload, concurrency, duration, len(pool))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, pool)
	}
	wg.Wait()

	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, pool []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		receiver := pickReceiver(pool)
		key := fmt.Sprintf("bench-%s-%d", receiver, time.Now().UnixNano())

		payload := map[string]any{
			"receiver_account_number": receiver,
			"amount":                  amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&successOK, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickReceiver(pool []string) string {
	// Hotspot: 90% of traffic lands on the first receiver, forcing lock
	// contention on one account pair.
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return pool[0]
	}
	return pool[rand.Intn(len(pool))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	results := map[string]any{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": float64(total) / d.Seconds(),
		"success":        atomic.LoadUint64(&successOK),
		"conflicts":      atomic.LoadUint64(&fail409),
		"rejected":       atomic.LoadUint64(&fail422),
		"errors":         atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
