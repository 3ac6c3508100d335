package core

import (
	"math"
	"testing"
)

func TestLowPassFirstOutput(t *testing.T) {
	f := NewLowPass(0.001, 50)
	a := f.Coefficient()

	w := 2 * math.Pi * 50 * 0.001
	want := float32(w / (w + 1))
	if math.Abs(float64(a-want)) > 1e-6 {
		t.Errorf("coefficient %v, want %v", a, want)
	}
	if out := f.Apply(2); out != a*2 {
		t.Errorf("first output %v, want exactly a*v = %v", out, a*2)
	}
}

func TestLowPassConverges(t *testing.T) {
	f := NewLowPass(0.00005, 1500)
	var out float32
	for i := 0; i < 1000; i++ {
		out = f.Apply(3.5)
	}
	if math.Abs(float64(out-3.5)) > 1e-4 {
		t.Errorf("output %v did not converge to 3.5", out)
	}
}

func TestKalmanConverges(t *testing.T) {
	f := NewKalman(0.001, 0.5)

	// first step from x=0, P=1: P=1.001, k=1.001/1.501
	k := float32(1.001) / float32(1.501)
	if out := f.Apply(2); math.Abs(float64(out-k*2)) > 1e-6 {
		t.Errorf("first output %v, want %v", out, k*2)
	}

	var out float32
	for i := 0; i < 2000; i++ {
		out = f.Apply(2)
	}
	if math.Abs(float64(out-2)) > 1e-3 {
		t.Errorf("output %v did not converge to 2", out)
	}

	f.Reset()
	if out := f.Apply(0); out != 0 {
		t.Errorf("output after reset %v, want 0", out)
	}
}

func TestMovingAverage(t *testing.T) {
	f := NewMovingAverage(4)
	want := []float32{0.25, 0.75, 1.5, 2.5}
	for i, x := range []float32{1, 2, 3, 4} {
		if out := f.Apply(x); out != want[i] {
			t.Errorf("sample %d: output %v, want %v", i, out, want[i])
		}
	}
	// window now holds 2,3,4,5
	if out := f.Apply(5); out != 3.5 {
		t.Errorf("output %v, want 3.5", out)
	}
}

func TestMovingAverageRunningSum(t *testing.T) {
	f := NewMovingAverage(3)
	for i := 0; i < 50; i++ {
		f.Apply(float32(i % 7))
		var sum float32
		for _, v := range f.buf {
			sum += v
		}
		if sum != f.sum {
			t.Fatalf("step %d: running sum %v, buffer sum %v", i, f.sum, sum)
		}
	}
}

func TestNewFilter(t *testing.T) {
	tests := []struct {
		name string
		cfg  FilterConfig
		ok   bool
	}{
		{"none", FilterConfig{Kind: FilterNone}, true},
		{"lowpass", FilterConfig{Kind: FilterLowPass, SamplePeriod: 0.001, Cutoff: 10}, true},
		{"lowpass no cutoff", FilterConfig{Kind: FilterLowPass, SamplePeriod: 0.001}, false},
		{"kalman", FilterConfig{Kind: FilterKalman, ProcessNoise: 0.01, ObservationNoise: 1}, true},
		{"kalman zero r", FilterConfig{Kind: FilterKalman, ProcessNoise: 0.01}, false},
		{"average", FilterConfig{Kind: FilterMovingAverage, Window: 8}, true},
		{"average empty", FilterConfig{Kind: FilterMovingAverage}, false},
		{"bad kind", FilterConfig{Kind: 42}, false},
	}

	for _, tt := range tests {
		f, err := NewFilter(tt.cfg)
		if tt.ok && (err != nil || f == nil) {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err != ErrInvalidFilter {
			t.Errorf("%s: expected ErrInvalidFilter, got %v", tt.name, err)
		}
	}
}

func TestFilterInstancesIndependent(t *testing.T) {
	cfg := FilterConfig{Kind: FilterLowPass, SamplePeriod: 0.001, Cutoff: 10}
	a, _ := NewFilter(cfg)
	b, _ := NewFilter(cfg)

	a.Apply(100)
	if out := b.Apply(0); out != 0 {
		t.Errorf("second filter shares state: %v", out)
	}
}

func TestPassThrough(t *testing.T) {
	f, _ := NewFilter(FilterConfig{})
	if out := f.Apply(1.25); out != 1.25 {
		t.Errorf("output %v, want 1.25", out)
	}
}
