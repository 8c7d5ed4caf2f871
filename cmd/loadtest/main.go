// Command loadtest drives the relay's frame-analysis endpoint with
// concurrent synthetic clients and prints a latency summary.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type result struct {
	statusCode int
	latency    time.Duration
	err        error
	snippet    string
}

func main() {
	var (
		targetURL   string
		requests    int
		concurrency int
		timeoutSec  int
		frameFile   string
	)
	flag.StringVar(&targetURL, "url", "http://localhost:8080/analyze_frame", "Relay frame-analysis URL")
	flag.IntVar(&requests, "requests", 1000, "Total number of requests to send")
	flag.IntVar(&concurrency, "concurrency", 50, "Number of concurrent workers")
	flag.IntVar(&timeoutSec, "timeout", 60, "Per-request timeout seconds")
	flag.StringVar(&frameFile, "frame-file", "", "Image file to send as the frame (a tiny synthetic frame is used when empty)")
	flag.Parse()

	if requests <= 0 || concurrency <= 0 {
		fmt.Println("requests and concurrency must be > 0")
		os.Exit(1)
	}
	if concurrency > requests {
		concurrency = requests
	}

	payload, err := framePayload(frameFile)
	if err != nil {
		fmt.Println("build payload error:", err)
		os.Exit(1)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          concurrency,
		MaxIdleConnsPerHost:   concurrency,
		MaxConnsPerHost:       concurrency,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(timeoutSec) * time.Second,
	}

	jobs := make(chan struct{}, requests)
	for i := 0; i < requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var (
		mu      sync.Mutex
		results []result
	)

	g, ctx := errgroup.WithContext(context.Background())
	testStart := time.Now()
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for range jobs {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				lat := time.Since(start)

				r := result{latency: lat, err: err}
				if err == nil {
					r.statusCode = resp.StatusCode
					if resp.StatusCode < 200 || resp.StatusCode >= 300 {
						b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
						r.snippet = strings.TrimSpace(string(b))
					} else {
						io.Copy(io.Discard, resp.Body)
					}
					resp.Body.Close()
				}

				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Println("worker error:", err)
		os.Exit(1)
	}
	totalElapsed := time.Since(testStart)

	summarize(targetURL, requests, concurrency, totalElapsed, results)
}

// framePayload builds the {image_base64} JSON body. With no file it encodes
// a tiny fixed byte pattern; the backend will reject it, which still
// exercises the relay's forward path end to end.
func framePayload(frameFile string) ([]byte, error) {
	var raw []byte
	if frameFile != "" {
		b, err := os.ReadFile(frameFile)
		if err != nil {
			return nil, err
		}
		raw = b
	} else {
		raw = bytes.Repeat([]byte{0x42}, 256)
	}
	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
	return json.Marshal(map[string]string{"image_base64": encoded})
}

func summarize(targetURL string, requests, concurrency int, totalElapsed time.Duration, results []result) {
	var (
		latencies      []time.Duration
		successCount   int
		errorCount     int
		statusCounters = make(map[int]int)
		errorKinds     = make(map[string]int)
	)

	for _, r := range results {
		latencies = append(latencies, r.latency)
		if r.err != nil {
			errorCount++
			errorKinds[r.err.Error()]++
			continue
		}
		statusCounters[r.statusCode]++
		if r.statusCode >= 200 && r.statusCode < 400 {
			successCount++
		} else {
			errorCount++
			key := fmt.Sprintf("HTTP %d", r.statusCode)
			if r.snippet != "" {
				key = fmt.Sprintf("%s: %s", key, truncateForPrint(r.snippet, 120))
			}
			errorKinds[key]++
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p := func(percent float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(percent*float64(len(latencies))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	var avg time.Duration
	for _, d := range latencies {
		avg += d
	}
	if len(latencies) > 0 {
		avg /= time.Duration(len(latencies))
	}

	fmt.Println("=== Load Test Summary ===")
	fmt.Printf("URL:            %s\n", targetURL)
	fmt.Printf("Requests:       %d\n", requests)
	fmt.Printf("Concurrency:    %d\n", concurrency)
	fmt.Printf("Success:        %d\n", successCount)
	fmt.Printf("Errors:         %d\n", errorCount)
	fmt.Printf("Total Elapsed:  %v\n", totalElapsed)
	fmt.Printf("Status Counts:  %v\n", statusCounters)
	if len(latencies) > 0 {
		fmt.Printf("Avg Latency:    %v\n", avg)
		fmt.Printf("P50 Latency:    %v\n", p(0.50))
		fmt.Printf("P90 Latency:    %v\n", p(0.90))
		fmt.Printf("P95 Latency:    %v\n", p(0.95))
		fmt.Printf("P99 Latency:    %v\n", p(0.99))
	}

	if len(errorKinds) > 0 {
		type kv struct {
			k string
			v int
		}
		var arr []kv
		for k, v := range errorKinds {
			arr = append(arr, kv{k, v})
		}
		sort.Slice(arr, func(i, j int) bool { return arr[i].v > arr[j].v })
		maxShow := 10
		if len(arr) < maxShow {
			maxShow = len(arr)
		}
		fmt.Println("Top Error Kinds:")
		for i := 0; i < maxShow; i++ {
			fmt.Printf("  %d) %s  (count=%d)\n", i+1, arr[i].k, arr[i].v)
		}
	}
}

func truncateForPrint(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
