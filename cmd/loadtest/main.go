// Command loadtest drives a running phrase table service with a mix of
// phrase lookups, sentence lookups and updates, and reports latency per
// request kind.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/server/handler"
)

type kind int

const (
	phraseLookup kind = iota
	sentenceLookup
	updatePost
	kindCount
)

var kindNames = [kindCount]string{"phrase", "sentence", "update"}

type series struct {
	mu        sync.Mutex
	latencies []time.Duration
	errors    atomic.Int64
	codes     map[int]int
}

type stats [kindCount]*series

func newStats() *stats {
	var s stats
	for i := range s {
		s[i] = &series{codes: make(map[int]int)}
	}
	return &s
}

func (s *series) record(d time.Duration, code int, err error) {
	if err != nil {
		s.errors.Add(1)
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
	if code >= 300 {
		s.errors.Add(1)
	}
}

type workload struct {
	baseURL     string
	sentences   [][]model.Wid
	context     string
	updateRatio float64
	sentRatio   float64
	stream      model.Stream
	seq         atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the phrase table service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	qps := flag.Float64("qps", 0, "total request rate limit, 0 for unlimited")
	input := flag.String("sentences", "", "file of id sentences, one per line; random ids when empty")
	domains := flag.String("context", "", "domain mixture sent with lookups")
	updateRatio := flag.Float64("updates", 0.05, "fraction of requests that post updates")
	sentenceRatio := flag.Float64("sentence-lookups", 0.2, "fraction of requests that look up whole sentences")
	flag.Parse()

	sentences, err := loadSentences(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading sentences: %v\n", err)
		os.Exit(1)
	}
	w := &workload{
		baseURL:     *baseURL,
		sentences:   sentences,
		context:     *domains,
		updateRatio: *updateRatio,
		sentRatio:   *sentenceRatio,
		stream:      model.Stream(1_000_000 + time.Now().Unix()%1_000_000),
	}

	fmt.Println("=== Phrase Table Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Sentences:   %d\n", len(sentences))
	fmt.Printf("Stream:      %d\n", w.stream)
	fmt.Println()

	limit := rate.Inf
	if *qps > 0 {
		limit = rate.Limit(*qps)
	}
	s := run(w, *concurrency, *duration, rate.NewLimiter(limit, max(*concurrency, 1)))
	if !report(s, *duration) {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func loadSentences(path string) ([][]model.Wid, error) {
	if path == "" {
		r := rand.New(rand.NewPCG(11, 13))
		out := make([][]model.Wid, 500)
		for i := range out {
			s := make([]model.Wid, 6+r.IntN(20))
			for j := range s {
				s[j] = model.Wid(1 + r.IntN(r.IntN(5000)+1))
			}
			out[i] = s
		}
		return out, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out [][]model.Wid
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s, err := model.ParsePhrase(sc.Text())
		if err != nil || len(s) == 0 {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s holds no sentences", path)
	}
	return out, sc.Err()
}

func run(w *workload, concurrency int, duration time.Duration, limiter *rate.Limiter) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < concurrency; worker++ {
		g.Go(func() error {
			r := rand.New(rand.NewPCG(uint64(worker), 17))
			for limiter.Wait(ctx) == nil {
				k, req, err := w.next(ctx, r)
				if err != nil {
					return err
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					s[k].record(elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				s[k].record(elapsed, resp.StatusCode, nil)
			}
			return nil
		})
	}

	fmt.Print("Running")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "\nworker failed: %v\n", err)
	}
	fmt.Println(" done!")
	fmt.Println()
	return s
}

// next draws one request of the workload mix.
func (w *workload) next(ctx context.Context, r *rand.Rand) (kind, *http.Request, error) {
	sentence := w.sentences[r.IntN(len(w.sentences))]
	p := r.Float64()
	switch {
	case p < w.updateRatio:
		seq := model.Seq(w.seq.Add(1))
		n := len(sentence)
		a := make(model.Alignment, n)
		target := make([]model.Wid, n)
		for i := range sentence {
			a[i] = model.AlignmentPoint{Source: uint16(i), Target: uint16(n - 1 - i)}
			target[n-1-i] = sentence[i] + 100000
		}
		body, _ := json.Marshal(handler.UpdatesRequest{Updates: []handler.UpdateRequest{{
			Stream: w.stream, Seq: seq, Domain: 1, Source: sentence, Target: target, Alignment: a,
		}}})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/api/v1/updates", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return updatePost, req, err
	case p < w.updateRatio+w.sentRatio:
		domains, err := handler.ParseContext(w.context)
		if err != nil {
			return 0, nil, err
		}
		body, _ := json.Marshal(handler.AllOptionsRequest{Sentence: sentence, Context: domains})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/api/v1/options/all", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return sentenceLookup, req, err
	}
	start := r.IntN(len(sentence))
	end := min(len(sentence), start+1+r.IntN(3))
	url := fmt.Sprintf("%s/api/v1/options?phrase=%s", w.baseURL, model.PhraseKey(sentence[start:end]))
	if w.context != "" {
		url += "&context=" + w.context
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	return phraseLookup, req, err
}

func report(s *stats, duration time.Duration) bool {
	var total int
	for k, ser := range s {
		ser.mu.Lock()
		latencies := slices.Clone(ser.latencies)
		codes := ser.codes
		ser.mu.Unlock()
		n := len(latencies) + int(ser.errors.Load())
		if n == 0 {
			continue
		}
		total += len(latencies)
		slices.Sort(latencies)

		fmt.Printf("=== %s ===\n", kindNames[k])
		fmt.Printf("Requests:     %d (%.2f/s)\n", len(latencies), float64(len(latencies))/duration.Seconds())
		fmt.Printf("Errors:       %d\n", ser.errors.Load())
		if len(latencies) > 0 {
			var sum time.Duration
			for _, l := range latencies {
				sum += l
			}
			fmt.Printf("Avg:          %s\n", sum/time.Duration(len(latencies)))
			fmt.Printf("P50/P95/P99:  %s / %s / %s\n",
				percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
			fmt.Printf("Max:          %s\n", latencies[len(latencies)-1])
		}
		statuses := make([]int, 0, len(codes))
		for c := range codes {
			statuses = append(statuses, c)
		}
		slices.Sort(statuses)
		for _, c := range statuses {
			fmt.Printf("  %d: %d\n", c, codes[c])
		}
		fmt.Println()
	}
	return total > 0
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
