package bench_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/murmurtts/murmur/internal/bench"
)

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean {
		t.Errorf("single run: min/max/mean should all be equal, got min=%v max=%v mean=%v", s.Min, s.Max, s.Mean)
	}
}

func TestStats_Empty(t *testing.T) {
	s := bench.ComputeStats(nil)
	if s.Min != 0 || s.Max != 0 || s.Mean != 0 {
		t.Errorf("empty input should yield zero stats, got %+v", s)
	}
}

func TestRTF_Calculation(t *testing.T) {
	// 1 second of audio synthesised in 500ms means RTF = 0.5.
	rtf := bench.CalcRTF(500*time.Millisecond, 1*time.Second)
	if rtf < 0.499 || rtf > 0.501 {
		t.Errorf("want RTF~0.5, got %.4f", rtf)
	}
}

func TestRTF_ZeroAudioDuration(t *testing.T) {
	if rtf := bench.CalcRTF(time.Second, 0); rtf != 0 {
		t.Errorf("zero audio duration should give RTF 0, got %v", rtf)
	}
}

func TestSamplesDuration(t *testing.T) {
	if got := bench.SamplesDuration(24000, 24000); got != time.Second {
		t.Errorf("24000 samples at 24kHz should be 1s, got %v", got)
	}

	if got := bench.SamplesDuration(12000, 24000); got != 500*time.Millisecond {
		t.Errorf("12000 samples at 24kHz should be 500ms, got %v", got)
	}

	if got := bench.SamplesDuration(100, 0); got != 0 {
		t.Errorf("zero sample rate should give 0, got %v", got)
	}
}

func TestMeanRTF(t *testing.T) {
	runs := []bench.RunResult{
		{RTF: 0.2},
		{RTF: 0.4},
	}

	got := bench.MeanRTF(runs)
	if got < 0.299 || got > 0.301 {
		t.Errorf("want mean RTF~0.3, got %v", got)
	}

	if bench.MeanRTF(nil) != 0 {
		t.Error("empty runs should give mean RTF 0")
	}
}

func TestCheckRTFThreshold(t *testing.T) {
	if err := bench.CheckRTFThreshold(0.5, 0); err != nil {
		t.Errorf("zero threshold should disable the gate: %v", err)
	}

	if err := bench.CheckRTFThreshold(0.5, 1.0); err != nil {
		t.Errorf("RTF below threshold should pass: %v", err)
	}

	if err := bench.CheckRTFThreshold(1.5, 1.0); err == nil {
		t.Error("RTF above threshold should fail")
	}
}

func TestFormatTable(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 120 * time.Millisecond, AudioDuration: time.Second, RTF: 0.12},
		{Index: 1, Duration: 80 * time.Millisecond, AudioDuration: time.Second, RTF: 0.08},
	}
	stats := bench.ComputeStats([]time.Duration{120 * time.Millisecond, 80 * time.Millisecond})

	var buf bytes.Buffer
	bench.FormatTable(runs, stats, &buf)

	out := buf.String()
	if !strings.Contains(out, "Run") || !strings.Contains(out, "RTF") {
		t.Errorf("table missing headers:\n%s", out)
	}
	if !strings.Contains(out, "yes") {
		t.Errorf("table should mark the cold run:\n%s", out)
	}
	if !strings.Contains(out, "(mean)") {
		t.Errorf("table should report the mean:\n%s", out)
	}
}

func TestFormatJSON(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 100 * time.Millisecond, AudioDuration: 500 * time.Millisecond, RTF: 0.2},
	}
	stats := bench.ComputeStats([]time.Duration{100 * time.Millisecond})

	var buf bytes.Buffer
	bench.FormatJSON(runs, stats, &buf)

	var report struct {
		Runs []struct {
			Index      int     `json:"index"`
			Cold       bool    `json:"cold"`
			DurationMS float64 `json:"duration_ms"`
			AudioMS    float64 `json:"audio_ms"`
			RTF        float64 `json:"rtf"`
		} `json:"runs"`
		Stats struct {
			MinMS  float64 `json:"min_ms"`
			MeanMS float64 `json:"mean_ms"`
			MaxMS  float64 `json:"max_ms"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if len(report.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(report.Runs))
	}
	if !report.Runs[0].Cold || report.Runs[0].DurationMS != 100 || report.Runs[0].RTF != 0.2 {
		t.Errorf("unexpected run payload: %+v", report.Runs[0])
	}
	if report.Stats.MeanMS != 100 {
		t.Errorf("unexpected mean: %v", report.Stats.MeanMS)
	}
}
