package bwe

import "testing"

func TestOverUseDetector_NormalOffsetStaysNormal(t *testing.T) {
	d := NewOverUseDetector(DefaultOveruseConfig())
	for i := 0; i < 20; i++ {
		state := d.Detect(0.01, 10, 10)
		if state != BwNormal {
			t.Fatalf("Detect(0.01, ...) = %v, want normal", state)
		}
	}
}

func TestOverUseDetector_SustainedLargePositiveOffsetDeclaresOveruse(t *testing.T) {
	d := NewOverUseDetector(DefaultOveruseConfig())
	var lastState BandwidthUsage
	for i := 0; i < 30; i++ {
		lastState = d.Detect(50.0, 10, 60)
	}
	if lastState != BwOverusing {
		t.Errorf("final state = %v, want overusing after sustained large offset", lastState)
	}
}

func TestOverUseDetector_NegativeOffsetIsUnderuse(t *testing.T) {
	d := NewOverUseDetector(DefaultOveruseConfig())
	state := d.Detect(-50.0, 10, 60)
	if state != BwUnderusing {
		t.Errorf("Detect(-50, ...) = %v, want underusing", state)
	}
}

func TestOverUseDetector_DecreasingOffsetDoesNotDeclareOveruse(t *testing.T) {
	d := NewOverUseDetector(DefaultOveruseConfig())
	// Prime gamma upward first so large positive T doesn't trivially pass.
	offset := 50.0
	var lastState BandwidthUsage
	for i := 0; i < 5; i++ {
		lastState = d.Detect(offset, 10, 60)
		offset -= 5
	}
	if lastState == BwOverusing {
		t.Errorf("declared overuse while offset was decreasing, want no declaration")
	}
}

func TestOverUseDetector_ThresholdRampsUpAndStaysCapped(t *testing.T) {
	cfg := DefaultOveruseConfig()
	d := NewOverUseDetector(cfg)
	// Walk T up gradually, close enough each step to stay inside the
	// outlier-resistance window, so gamma keeps chasing it toward the cap.
	offset := 0.2
	for i := 0; i < 2000; i++ {
		d.Detect(offset, 10, 60)
		offset += 0.005
		if d.Threshold() < cfg.MinThreshold || d.Threshold() > cfg.MaxThreshold {
			t.Fatalf("threshold = %v left [%v,%v] bounds", d.Threshold(), cfg.MinThreshold, cfg.MaxThreshold)
		}
	}
	if d.Threshold() != cfg.MaxThreshold {
		t.Errorf("threshold = %v after sustained growth, want it saturated at %v", d.Threshold(), cfg.MaxThreshold)
	}
}

func TestOverUseDetector_OutlierOffsetDoesNotMoveThreshold(t *testing.T) {
	cfg := DefaultOveruseConfig()
	d := NewOverUseDetector(cfg)
	d.Detect(1000.0, 10, 60)
	if d.Threshold() != cfg.InitialThreshold {
		t.Errorf("threshold = %v, want unchanged %v for a single far outlier", d.Threshold(), cfg.InitialThreshold)
	}
}

func TestOverUseDetector_Reset(t *testing.T) {
	cfg := DefaultOveruseConfig()
	d := NewOverUseDetector(cfg)
	d.Detect(1000.0, 10, 60)
	d.Reset()
	if d.Threshold() != cfg.InitialThreshold {
		t.Errorf("threshold after Reset = %v, want %v", d.Threshold(), cfg.InitialThreshold)
	}
}
