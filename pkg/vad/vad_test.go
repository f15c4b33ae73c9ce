package vad

import (
	"math"
	"testing"
	"time"
)

// loudWindow returns a window of samples at roughly the given dBFS level.
func loudWindow(n int, db float64) []int16 {
	amp := math.Pow(10, db/20) * 32768
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp)
	}
	return out
}

func TestLevelDB(t *testing.T) {
	t.Parallel()

	// Silence must produce a finite, very low level.
	if lvl := LevelDB(make([]int16, 2048)); math.IsInf(lvl, -1) || lvl > -100 {
		t.Errorf("silent window level = %v, want finite and below -100", lvl)
	}
	if lvl := LevelDB(nil); math.IsInf(lvl, -1) {
		t.Error("empty window level is -Inf")
	}

	// A -20 dBFS tone should measure near -20 dBFS.
	lvl := LevelDB(loudWindow(2048, -20))
	if lvl < -22 || lvl > -18 {
		t.Errorf("loud window level = %v, want ≈ -20", lvl)
	}
}

func TestDetector_SpeechStartAndEnd(t *testing.T) {
	t.Parallel()

	d := NewDetector(Config{})
	quiet := make([]int16, 2048)
	loud := loudWindow(2048, -30)

	d.Process(quiet, 100*time.Millisecond)
	d.Process(loud, 200*time.Millisecond)
	d.Process(loud, 300*time.Millisecond)

	timing := d.EndCapture(400 * time.Millisecond)
	if timing.SpeechStart != 200*time.Millisecond {
		t.Errorf("SpeechStart = %v, want 200ms", timing.SpeechStart)
	}
	if timing.SpeechEnd != 400*time.Millisecond {
		t.Errorf("SpeechEnd = %v, want 400ms", timing.SpeechEnd)
	}
	if timing.Silence != 0 {
		t.Errorf("Silence = %v, want 0 (leading silence is not a pause)", timing.Silence)
	}
}

func TestDetector_NoSpeech(t *testing.T) {
	t.Parallel()

	d := NewDetector(Config{})
	quiet := make([]int16, 2048)
	for i := 1; i <= 10; i++ {
		d.Process(quiet, time.Duration(i)*100*time.Millisecond)
	}
	timing := d.EndCapture(time.Second)
	if timing.SpeechStart >= 0 {
		t.Errorf("SpeechStart = %v, want negative when nothing was voiced", timing.SpeechStart)
	}
	if timing.Silence != 0 {
		t.Errorf("Silence = %v, want 0 without a prior voiced window", timing.Silence)
	}
}

func TestDetector_DebouncedSilence(t *testing.T) {
	t.Parallel()

	d := NewDetector(Config{Debounce: 200 * time.Millisecond})
	quiet := make([]int16, 2048)
	loud := loudWindow(2048, -30)

	d.Process(loud, 100*time.Millisecond)
	// A 150 ms gap stays under the debounce: no silence counted.
	d.Process(quiet, 200*time.Millisecond)
	d.Process(loud, 350*time.Millisecond)
	if got := d.Timing().Silence; got != 0 {
		t.Fatalf("Silence after sub-debounce gap = %v, want 0", got)
	}

	// A gap that outlasts the debounce is counted once.
	d.Process(quiet, 400*time.Millisecond)
	d.Process(quiet, 700*time.Millisecond)
	first := d.Timing().Silence
	if first <= 0 {
		t.Fatalf("Silence after long gap = %v, want > 0", first)
	}

	// Further silent windows in the same gap must not double count.
	d.Process(quiet, 900*time.Millisecond)
	if got := d.Timing().Silence; got != first {
		t.Errorf("Silence grew from %v to %v within one gap", first, got)
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()

	d := NewDetector(Config{})
	d.Process(loudWindow(2048, -30), 100*time.Millisecond)
	d.Reset()
	timing := d.EndCapture(0)
	if timing.SpeechStart >= 0 || timing.Silence != 0 {
		t.Errorf("state after Reset = %+v, want cleared", timing)
	}
}
