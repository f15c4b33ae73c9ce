// Package vad implements signal-energy voice activity detection for recording
// attempts.
//
// The detector computes short-window RMS energy in decibels relative to full
// scale and runs a two-state machine: a window is voiced when its level
// exceeds the configured threshold, silent otherwise. Silent stretches only
// count toward the cumulative silence total once they outlast a debounce
// window, so breath pauses between words are not penalised.
//
// A Detector tracks a single audio stream and is not safe for concurrent use;
// [Monitor] wraps it with the sampling goroutine and locking needed by the
// assessment pipeline.
package vad

import (
	"math"
	"time"

	"github.com/remedialab/lectura/pkg/types"
)

const (
	// DefaultWindowSize is the number of PCM samples per analysis window.
	DefaultWindowSize = 2048

	// DefaultThresholdDB is the level above which a window counts as speech,
	// in dBFS. Typical quiet-classroom noise floors sit around -60 dBFS.
	DefaultThresholdDB = -50

	// DefaultDebounce is how long a silent stretch must last before it is
	// added to the cumulative silence total.
	DefaultDebounce = 200 * time.Millisecond

	// epsilon keeps the dB conversion defined for all-zero windows.
	epsilon = 1e-10
)

// Config holds the parameters for a Detector. Zero-value fields are replaced
// with the package defaults.
type Config struct {
	// WindowSize is the number of samples per analysis window.
	WindowSize int

	// ThresholdDB is the voiced/silent decision level in dBFS.
	ThresholdDB float64

	// Debounce is the minimum silent stretch counted as a pause.
	Debounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.ThresholdDB == 0 {
		c.ThresholdDB = DefaultThresholdDB
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	return c
}

// LevelDB returns the RMS energy of samples in dBFS. An empty or silent
// window returns a large negative value rather than -Inf.
func LevelDB(samples []int16) float64 {
	if len(samples) == 0 {
		return 20 * math.Log10(epsilon)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return 20 * math.Log10(rms+epsilon)
}

// Detector is the per-attempt voice activity state machine.
type Detector struct {
	cfg Config

	speechStart  time.Duration // -1 until the first voiced window
	speechEnd    time.Duration
	lastVoice    time.Duration // -1 when no uncounted voiced stretch exists
	silenceStart time.Duration // -1 while the current window run is voiced
	silence      time.Duration
}

// NewDetector creates a Detector with cfg, filling unset fields with defaults.
func NewDetector(cfg Config) *Detector {
	d := &Detector{cfg: cfg.withDefaults()}
	d.Reset()
	return d
}

// WindowSize returns the number of samples the detector expects per Process
// call.
func (d *Detector) WindowSize() int { return d.cfg.WindowSize }

// Process classifies one analysis window ending at now.
func (d *Detector) Process(samples []int16, now time.Duration) {
	if LevelDB(samples) > d.cfg.ThresholdDB {
		// Voiced: remember the timestamp, open the speech span, and drop any
		// running silence timer.
		d.lastVoice = now
		if d.speechStart < 0 {
			d.speechStart = now
		}
		d.silenceStart = -1
		return
	}

	// Silent: start the timer on the first silent window, then fold the
	// stretch into the total once it outlasts the debounce. Clearing
	// lastVoice afterwards prevents the same gap from being counted twice.
	if d.silenceStart < 0 {
		d.silenceStart = now
		return
	}
	if now-d.silenceStart > d.cfg.Debounce && d.lastVoice >= 0 {
		d.silence += now - d.silenceStart
		d.lastVoice = -1
	}
}

// EndCapture marks the end of the attempt at now and returns the final
// timing summary.
func (d *Detector) EndCapture(now time.Duration) types.VADTiming {
	d.speechEnd = now
	return d.Timing()
}

// Timing returns the current voice activity summary.
func (d *Detector) Timing() types.VADTiming {
	return types.VADTiming{
		SpeechStart: d.speechStart,
		SpeechEnd:   d.speechEnd,
		Silence:     d.silence,
	}
}

// Reset clears all accumulated state so the detector can track a new attempt.
func (d *Detector) Reset() {
	d.speechStart = -1
	d.speechEnd = 0
	d.lastVoice = -1
	d.silenceStart = -1
	d.silence = 0
}
