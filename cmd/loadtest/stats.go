package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
)

// syntheticUtterance is a 440 Hz tone with a little noise, loud enough to
// pass the server energy detector.
func syntheticUtterance(d time.Duration) []byte {
	n := int(d.Seconds() * audio.SampleRate)
	buf := make([]byte, n*audio.BytesPerSample)
	for i := range n {
		t := float64(i) / audio.SampleRate
		sample := math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(sample*math.MaxInt16)))
	}
	return buf
}

func printSummary(w io.Writer, results []turnResult, failedCalls int) {
	outcomes := map[string]int{}
	var echo, reply, speech []float64
	for _, r := range results {
		outcomes[r.Outcome]++
		if r.Outcome != turnOK {
			continue
		}
		echo = append(echo, ms(r.Echo))
		reply = append(reply, ms(r.Reply))
		speech = append(speech, ms(r.Audio))
	}

	fmt.Fprintf(w, "\n=== Load Test Results ===\n")
	fmt.Fprintf(w, "Turns:        %d\n", len(results))
	for _, k := range []string{turnOK, turnNotice, turnNoAudio, turnTimeout} {
		fmt.Fprintf(w, "  %-10s %d\n", k, outcomes[k])
	}
	fmt.Fprintf(w, "Failed calls: %d\n", failedCalls)

	if len(speech) == 0 {
		fmt.Fprintln(w, "No completed turns to report latency")
		return
	}

	fmt.Fprintf(w, "\n%-6s %8s %8s %8s\n", "Stage", "p50", "p95", "p99")
	for _, row := range []struct {
		name string
		data []float64
	}{{"echo", echo}, {"reply", reply}, {"audio", speech}} {
		fmt.Fprintf(w, "%-6s %6.0fms %6.0fms %6.0fms\n", row.name,
			percentile(row.data, 50), percentile(row.data, 95), percentile(row.data, 99))
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func percentile(data []float64, pct float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := slices.Sorted(slices.Values(data))
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
