package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	var emitted []int
	for done := 0; done <= 8; done++ {
		if s.ShouldLog(done, 8, "") {
			emitted = append(emitted, done)
		}
	}
	want := []int{0, 2, 4, 6, 8}
	if len(emitted) != len(want) {
		t.Fatalf("emitted %v, want %v", emitted, want)
	}
	for i := range want {
		if emitted[i] != want[i] {
			t.Fatalf("emitted %v, want %v", emitted, want)
		}
	}
}

func TestProgressSamplerStageChangeResets(t *testing.T) {
	s := NewProgressSampler(50)
	if !s.ShouldLog(1, 4, "estimating") {
		t.Fatal("expected first event to log")
	}
	if s.ShouldLog(1, 4, "estimating") {
		t.Fatal("expected duplicate event suppressed")
	}
	if !s.ShouldLog(1, 4, "perturbing") {
		t.Fatal("expected stage change to log")
	}
}

func TestProgressSamplerFinalAlwaysLogs(t *testing.T) {
	s := NewProgressSampler(0)
	s.ShouldLog(99, 100, "")
	if !s.ShouldLog(100, 100, "") {
		t.Fatal("expected completion to log")
	}
	if s.ShouldLog(100, 100, "") {
		t.Fatal("expected repeated completion suppressed")
	}
	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(1, 2, "") {
		t.Fatal("nil sampler should always log")
	}
}

func TestPercent(t *testing.T) {
	if Percent(0, 0) != 100 {
		t.Fatal("expected empty work to be complete")
	}
	if Percent(1, 4) != 25 {
		t.Fatalf("unexpected percent %v", Percent(1, 4))
	}
}
