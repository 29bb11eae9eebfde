package classifier

import "testing"

func defaultParams() Params {
	return Params{MinHistory: 10, ThresholdFactor: 1.25, ThresholdFloorMS: 80}
}

func TestClassify_Calibrating_BelowMinHistory(t *testing.T) {
	res := Classify([]int64{50, 50, 50}, []int64{50}, false, defaultParams())
	if res.State != StateCalibrating {
		t.Fatalf("want CALIBRATING, got %s", res.State)
	}
	if res.BaselineMS != 0 || res.ThresholdMS != 0 {
		t.Fatalf("want zero baseline/threshold while calibrating, got %d/%d", res.BaselineMS, res.ThresholdMS)
	}
}

func TestClassify_Offline_Overrides(t *testing.T) {
	res := Classify(make([]int64, 20), []int64{10}, true, defaultParams())
	if res.State != StateOffline {
		t.Fatalf("want OFFLINE, got %s", res.State)
	}
}

func TestClassify_ThresholdLaw(t *testing.T) {
	hist := make([]int64, 10)
	for i := range hist {
		hist[i] = 100
	}
	// median=100 -> factor floor 125, add floor 180 -> threshold 180
	res := Classify(hist, []int64{90}, false, defaultParams())
	if res.ThresholdMS != 180 {
		t.Fatalf("want threshold 180, got %d", res.ThresholdMS)
	}
	if res.State != StateOnline {
		t.Fatalf("want ONLINE at avg=90 <= threshold=180, got %s", res.State)
	}
}

func TestClassify_StandbyAboveThreshold(t *testing.T) {
	hist := make([]int64, 10)
	for i := range hist {
		hist[i] = 100
	}
	res := Classify(hist, []int64{300, 400}, false, defaultParams())
	if res.State != StateStandby {
		t.Fatalf("want STANDBY, got %s", res.State)
	}
}

func TestClassify_TieAtThresholdIsOnline(t *testing.T) {
	hist := make([]int64, 10)
	for i := range hist {
		hist[i] = 0
	}
	// median=0, factor floor=0, add floor=80 -> threshold=80.
	res := Classify(hist, []int64{80}, false, defaultParams())
	if res.State != StateOnline {
		t.Fatalf("want ONLINE at tie (avg==threshold), got %s", res.State)
	}
}

func TestClassify_ZeroFloorPreventsPathologicalThreshold(t *testing.T) {
	hist := make([]int64, 10) // all zero, local mock baseline
	res := Classify(hist, []int64{50}, false, defaultParams())
	if res.ThresholdMS != 80 {
		t.Fatalf("want 80ms floor applied, got %d", res.ThresholdMS)
	}
}

func TestPercentile_JitterInputs(t *testing.T) {
	xs := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	p50 := Percentile(xs, 50)
	p95 := Percentile(xs, 95)
	if p95 < p50 {
		t.Fatalf("p95 (%d) should be >= p50 (%d)", p95, p50)
	}
}
