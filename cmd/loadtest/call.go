package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
	"github.com/hubenschmidt/sdr-voice-agent/internal/prompts"
)

// frameDuration is the client frame size: 320 samples, 640 bytes at 16 kHz.
const frameDuration = 20 * time.Millisecond

// Turn outcomes as seen from the client.
const (
	turnOK      = "ok"
	turnNotice  = "notice"
	turnNoAudio = "no_audio"
	turnTimeout = "timeout"
)

type callConfig struct {
	Gateway     string
	Identity    string
	Audio       []byte
	Turns       int
	FramePacing time.Duration
	TurnTimeout time.Duration
}

type turnResult struct {
	Outcome string
	Echo    time.Duration
	Reply   time.Duration
	Audio   time.Duration
}

// runCall opens one session, plays cfg.Audio once per turn and ends the
// session with an explicit end_of_session. Latencies are measured from the
// end_of_speech signal.
func runCall(ctx context.Context, cfg callConfig) ([]turnResult, error) {
	u, err := url.Parse(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	q := u.Query()
	q.Set("username", cfg.Identity)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var results []turnResult
	for range cfg.Turns {
		if ctx.Err() != nil {
			break
		}
		if err := sendUtterance(ctx, conn, cfg.Audio, cfg.FramePacing); err != nil {
			return results, err
		}
		res, err := awaitTurn(conn, cfg.TurnTimeout)
		if res.Outcome != "" {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}

	if err := sendControl(conn, "end_of_session"); err != nil {
		return results, err
	}
	drain(conn, 5*time.Second)
	return results, nil
}

func sendUtterance(ctx context.Context, conn *websocket.Conn, pcm []byte, pacing time.Duration) error {
	chunk := int(frameDuration.Seconds() * audio.BytesPerSecond)
	for i := 0; i < len(pcm); i += chunk {
		end := min(i+chunk, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[i:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		if pacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pacing):
			}
		}
	}
	return sendControl(conn, "end_of_speech")
}

func sendControl(conn *websocket.Conn, kind string) error {
	msg, _ := json.Marshal(map[string]string{"type": kind})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

var errTurnTimeout = errors.New("turn timed out")

// awaitTurn reads until the turn's audio arrives or a notice ends it. A read
// deadline leaves the connection unusable, so a timeout also ends the call.
func awaitTurn(conn *websocket.Conn, timeout time.Duration) (turnResult, error) {
	start := time.Now()
	var res turnResult
	conn.SetReadDeadline(start.Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		msgType, data, err := conn.ReadMessage()
		if isTimeout(err) {
			res.Outcome = turnTimeout
			if res.Reply > 0 {
				res.Outcome = turnNoAudio
			}
			return res, errTurnTimeout
		}
		if err != nil {
			return res, fmt.Errorf("read: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			res.Audio = time.Since(start)
			res.Outcome = turnOK
			return res, nil
		}
		text := string(data)
		switch {
		case strings.HasPrefix(text, prompts.UserPrefix):
			res.Echo = time.Since(start)
		case strings.HasPrefix(text, prompts.AgentPrefix):
			res.Reply = time.Since(start)
		default:
			res.Outcome = turnNotice
			return res, nil
		}
	}
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// drain reads until the server closes the connection.
func drain(conn *websocket.Conn, timeout time.Duration) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func loadSamples(dir string) ([][]byte, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var samples [][]byte
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".pcm", ".raw":
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		samples = append(samples, data)
	}
	return samples, nil
}
