package audio

import (
	"math"
	"time"
)

// VADConfig controls server-side end-of-speech detection.
type VADConfig struct {
	SpeechThresholdDB float64
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
}

// DefaultVADConfig returns defaults tuned for browser microphone audio.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB: -35,
		SilenceTimeout:    800 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
	}
}

// VAD is an energy-based detector that reports when a stretch of speech
// has been followed by enough silence. It only observes audio; buffering is
// left to the caller. Time is measured in received samples, so the detector
// behaves the same regardless of network jitter.
type VAD struct {
	cfg        VADConfig
	inSpeech   bool
	speechLen  time.Duration
	silenceLen time.Duration
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	return &VAD{cfg: cfg}
}

// Process feeds one PCM16 frame and returns true exactly once per utterance,
// on the frame that completes the trailing silence.
func (v *VAD) Process(pcm []byte) bool {
	samples := DecodePCM16(pcm)
	if len(samples) == 0 {
		return false
	}
	dur := time.Duration(len(samples)) * time.Second / SampleRate

	if computeEnergyDB(samples) >= v.cfg.SpeechThresholdDB {
		v.inSpeech = true
		v.speechLen += dur
		v.silenceLen = 0
		return false
	}

	if !v.inSpeech {
		return false
	}

	v.silenceLen += dur
	if v.silenceLen < v.cfg.SilenceTimeout {
		return false
	}

	long := v.speechLen >= v.cfg.MinSpeechDuration
	v.Reset()
	return long
}

// Reset forgets any in-progress utterance.
func (v *VAD) Reset() {
	v.inSpeech = false
	v.speechLen = 0
	v.silenceLen = 0
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
