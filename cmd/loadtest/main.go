// Command loadtest drives concurrent voice sessions against the gateway and
// reports per-stage turn latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"
)

func main() {
	gateway := flag.String("gateway", "ws://localhost:8000/ws/voice", "gateway WebSocket URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent sessions")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	turns := flag.Int("turns", 3, "turns per session")
	audioDir := flag.String("audio-dir", "", "directory with raw 16 kHz mono PCM16 samples (.pcm, .raw)")
	utterance := flag.Duration("utterance", 2*time.Second, "length of synthetic utterances")
	turnTimeout := flag.Duration("turn-timeout", 30*time.Second, "max wait for a turn to complete")
	flag.Parse()

	samples, err := loadSamples(*audioDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load samples: %v, using synthetic audio\n", err)
	}
	if len(samples) == 0 {
		samples = [][]byte{syntheticUtterance(*utterance)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	fmt.Printf("Load test: %d concurrent sessions for %s, %d turns each\n", *concurrency, *duration, *turns)
	fmt.Printf("Gateway: %s | samples: %d\n\n", *gateway, len(samples))

	var (
		mu      sync.Mutex
		results []turnResult
		failed  int
		wg      sync.WaitGroup
	)
	for worker := range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := callConfig{
				Gateway:     *gateway,
				Identity:    fmt.Sprintf("loadtest-%d", worker),
				Turns:       *turns,
				FramePacing: frameDuration,
				TurnTimeout: *turnTimeout,
			}
			for n := 0; ctx.Err() == nil; n++ {
				cfg.Audio = samples[(worker+n)%len(samples)]
				res, err := runCall(ctx, cfg)
				mu.Lock()
				results = append(results, res...)
				if err != nil && ctx.Err() == nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", cfg.Identity, err)
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(os.Stdout, results, failed)
}
