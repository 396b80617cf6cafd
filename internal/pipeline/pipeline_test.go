package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"testing"

	"plan-overlay/internal/alignerr"
	"plan-overlay/internal/alignment"
	"plan-overlay/internal/gridalign"
	pimage "plan-overlay/internal/image"
	"plan-overlay/internal/overlay"
	"plan-overlay/internal/vision"
)

var black = color.RGBA{0, 0, 0, 255}

func encoded(t *testing.T, img *image.RGBA) Input {
	t.Helper()
	raw, err := pimage.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	return Input{Image: img, Raw: raw}
}

// texturedSheet draws random filled boxes so SIFT has corners to lock on to.
func texturedSheet(w, h int, seed int64) *image.RGBA {
	img := pimage.NewWhite(w, h)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < 80; i++ {
		x0, y0 := rng.Intn(w-40), rng.Intn(h-40)
		bw, bh := 8+rng.Intn(30), 8+rng.Intn(30)
		shade := uint8(rng.Intn(150))
		for y := y0; y < y0+bh; y++ {
			for x := x0; x < x0+bw; x++ {
				img.SetRGBA(x, y, color.RGBA{shade, shade, shade, 255})
			}
		}
	}
	return img
}

func drawRing(img *image.RGBA, cx, cy, r float64) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if math.Abs(math.Hypot(float64(x)-cx, float64(y)-cy)-r) < 1.2 {
				img.SetRGBA(x, y, black)
			}
		}
	}
}

func drawHLine(img *image.RGBA, y, x0, x1 int) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y, black)
	}
}

func drawVLine(img *image.RGBA, x, y0, y1 int) {
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x, y, black)
	}
}

// gridSheet draws a left-edge bubble "A" feeding a horizontal grid line and a
// top-edge bubble "1" feeding a vertical one, offset by (dx, dy).
func gridSheet(dx, dy int) *image.RGBA {
	img := pimage.NewWhite(600, 400)
	drawRing(img, float64(60+dx), float64(150+dy), 30)
	drawHLine(img, 150+dy, 100+dx, 590)
	drawRing(img, float64(300+dx), float64(60+dy), 30)
	drawVLine(img, 300+dx, 100+dy, 390)
	return img
}

// gridDetector reports the two bubbles of gridSheet. Calls alternate between
// the old and the new image.
func gridDetector(offsets [][2]int) (vision.LabelDetector, *int) {
	calls := 0
	return vision.DetectorFunc(func(_ context.Context, img image.Image, _ string) ([]vision.Detection, error) {
		off := offsets[calls%len(offsets)]
		calls++
		w, h := 600.0, 400.0
		box := func(cx, cy float64) vision.BBox {
			return vision.BBox{
				XMin: (cx - 30) / w * 1000, YMin: (cy - 30) / h * 1000,
				XMax: (cx + 30) / w * 1000, YMax: (cy + 30) / h * 1000,
			}
		}
		dx, dy := float64(off[0]), float64(off[1])
		return []vision.Detection{
			{Label: "A", BBox: box(60+dx, 150+dy), Edge: "left"},
			{Label: "1", BBox: box(300+dx, 60+dy), Edge: "top"},
		}, nil
	}), &calls
}

func testOrchestrator(detector vision.LabelDetector, logOut *bytes.Buffer) *Orchestrator {
	o := &Orchestrator{
		Primary:           alignment.DefaultParams(),
		Fallback:          gridalign.DefaultParams(),
		FallbackEnabled:   true,
		Detector:          detector,
		LowConfidenceWarn: 0.3,
	}
	o.Primary.Estimate.RNG = rand.New(rand.NewSource(1))
	if logOut != nil {
		o.Logger = slogJSON(logOut)
	}
	return o
}

func slogJSON(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func assertTrace(t *testing.T, o Outcome, want ...State) {
	t.Helper()
	got := o.Trace()
	if len(got) != len(want) {
		t.Fatalf("trace: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace: got %v, want %v", got, want)
		}
	}
}

func TestAlignPrimarySuccess(t *testing.T) {
	sheet := texturedSheet(400, 400, 3)
	o := testOrchestrator(nil, nil)

	outcome, err := o.Align(context.Background(), encoded(t, sheet), encoded(t, sheet))
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}
	success, ok := outcome.(Success)
	if !ok {
		t.Fatalf("expected Success, got %T: %v", outcome, outcome.Err())
	}
	assertTrace(t, outcome, NotStarted, PrimaryAttempted, Succeeded)
	if success.Result.Stats.Method != alignment.MethodSIFT {
		t.Errorf("method: got %s", success.Result.Stats.Method)
	}
	if s := *success.Result.Stats.Scale; math.Abs(s-1) > 0.01 {
		t.Errorf("scale: got %f", s)
	}
}

func TestLowConfidenceIsOnlyAWarning(t *testing.T) {
	var logs bytes.Buffer
	sheet := texturedSheet(400, 400, 5)
	o := testOrchestrator(nil, &logs)
	o.LowConfidenceWarn = 1.01

	outcome, err := o.Align(context.Background(), encoded(t, sheet), encoded(t, sheet))
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}
	if outcome.Err() != nil {
		t.Fatalf("low confidence must not fail the run: %v", outcome.Err())
	}
	if !strings.Contains(logs.String(), "low alignment confidence") {
		t.Errorf("expected a low-confidence warning, logs: %s", logs.String())
	}
	if !strings.Contains(logs.String(), `"run_id"`) {
		t.Errorf("expected run_id on every record, logs: %s", logs.String())
	}
}

func TestAlignFallbackSuccess(t *testing.T) {
	detector, calls := gridDetector([][2]int{{0, 0}, {10, 20}})
	o := testOrchestrator(detector, nil)
	// Force the feature path to reject every candidate.
	o.Primary.Estimate.ScaleMin, o.Primary.Estimate.ScaleMax = 1.5, 2

	outcome, err := o.Align(context.Background(), encoded(t, gridSheet(0, 0)), encoded(t, gridSheet(10, 20)))
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}
	success, ok := outcome.(Success)
	if !ok {
		t.Fatalf("expected Success, got %T: %v", outcome, outcome.Err())
	}
	assertTrace(t, outcome, NotStarted, PrimaryAttempted, PrimaryFailed, FallbackAttempted, Succeeded)
	if *calls != 2 {
		t.Errorf("detector calls: got %d, want 2", *calls)
	}

	res := success.Result
	if res.Stats.Method != alignment.MethodGrid || *res.Stats.HMatches != 1 || *res.Stats.VMatches != 1 {
		t.Errorf("stats: %+v", res.Stats)
	}
	if math.Abs(res.Transform.TX-10) > 2 || math.Abs(res.Transform.TY-20) > 2 {
		t.Errorf("translation: got (%.2f, %.2f), want about (10, 20)", res.Transform.TX, res.Transform.TY)
	}
	if res.Pair.Old.Bounds() != res.Pair.New.Bounds() {
		t.Errorf("pair sizes differ: %v vs %v", res.Pair.Old.Bounds(), res.Pair.New.Bounds())
	}
}

func TestBothFailedSurfacesPrimaryError(t *testing.T) {
	detector := vision.DetectorFunc(func(context.Context, image.Image, string) ([]vision.Detection, error) {
		return nil, nil
	})
	o := testOrchestrator(detector, nil)
	blank := pimage.NewWhite(200, 200)

	outcome, err := o.Align(context.Background(), encoded(t, blank), encoded(t, blank))
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}
	failure, ok := outcome.(EstimationFailure)
	if !ok {
		t.Fatalf("expected EstimationFailure, got %T", outcome)
	}
	assertTrace(t, outcome, NotStarted, PrimaryAttempted, PrimaryFailed, FallbackAttempted, BothFailed)
	if !errors.Is(outcome.Err(), alignerr.ErrEstimation) {
		t.Errorf("expected ErrEstimation, got %v", outcome.Err())
	}
	if !strings.Contains(outcome.Err().Error(), "no features detected") {
		t.Errorf("primary reason should surface, got %v", outcome.Err())
	}
	if failure.Fallback == nil || !errors.Is(failure.Fallback, alignerr.ErrEstimation) {
		t.Errorf("fallback error should be kept: %v", failure.Fallback)
	}
}

func TestCollaboratorFailureIsNotDowngraded(t *testing.T) {
	detector := vision.DetectorFunc(func(context.Context, image.Image, string) ([]vision.Detection, error) {
		return nil, alignerr.Collaborator("detect", errors.New("401 unauthorized"))
	})
	o := testOrchestrator(detector, nil)
	blank := pimage.NewWhite(200, 200)

	outcome, err := o.Align(context.Background(), encoded(t, blank), encoded(t, blank))
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}
	if _, ok := outcome.(CollaboratorFailure); !ok {
		t.Fatalf("expected CollaboratorFailure, got %T", outcome)
	}
	assertTrace(t, outcome, NotStarted, PrimaryAttempted, PrimaryFailed, FallbackAttempted)
	if !errors.Is(outcome.Err(), alignerr.ErrCollaborator) {
		t.Errorf("expected ErrCollaborator, got %v", outcome.Err())
	}
}

func TestFallbackSkipped(t *testing.T) {
	called := false
	detector := vision.DetectorFunc(func(context.Context, image.Image, string) ([]vision.Detection, error) {
		called = true
		return nil, nil
	})
	blank := pimage.NewWhite(200, 200)

	tests := []struct {
		name  string
		setup func(*Orchestrator, *Input)
	}{
		{"disabled", func(o *Orchestrator, _ *Input) { o.FallbackEnabled = false }},
		{"no detector", func(o *Orchestrator, _ *Input) { o.Detector = nil }},
		{"no raw bytes", func(_ *Orchestrator, in *Input) { in.Raw = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			o := testOrchestrator(detector, nil)
			old := encoded(t, blank)
			tt.setup(o, &old)

			outcome, err := o.Align(context.Background(), old, encoded(t, blank))
			if err != nil {
				t.Fatalf("Align returned error: %v", err)
			}
			if _, ok := outcome.(EstimationFailure); !ok {
				t.Fatalf("expected EstimationFailure, got %T", outcome)
			}
			assertTrace(t, outcome, NotStarted, PrimaryAttempted, PrimaryFailed)
			if called {
				t.Error("detector should not be called")
			}
		})
	}
}

func TestInputErrorIsFatal(t *testing.T) {
	o := testOrchestrator(nil, nil)
	outcome, err := o.Align(context.Background(), Input{}, Input{Image: pimage.NewWhite(10, 10)})
	if !errors.Is(err, alignerr.ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
	if outcome != nil {
		t.Errorf("expected no outcome, got %T", outcome)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := testOrchestrator(nil, nil)
	blank := pimage.NewWhite(10, 10)
	if _, err := o.Align(ctx, encoded(t, blank), encoded(t, blank)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCompareDiffProducesThreeImages(t *testing.T) {
	old := texturedSheet(400, 400, 9)
	new := pimage.NewWhite(400, 400)
	copy(new.Pix, old.Pix)
	for y := 300; y < 340; y++ {
		for x := 300; x < 340; x++ {
			new.SetRGBA(x, y, black)
		}
	}

	o := testOrchestrator(nil, nil)
	art, err := o.Compare(context.Background(), encoded(t, old), encoded(t, new),
		RenderOptions{Mode: ModeDiff, Diff: overlay.DefaultDiffParams()})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	for name, data := range map[string][]byte{"overlay": art.Overlay, "deletion": art.Deletion, "addition": art.Addition} {
		img, err := pimage.Decode(data)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if img.Bounds().Dx() < 400 || img.Bounds().Dy() < 400 {
			t.Errorf("%s: canvas shrank to %v", name, img.Bounds())
		}
	}
}

func TestCompareMergeReturnsOutcomeOnFailure(t *testing.T) {
	o := testOrchestrator(nil, nil)
	blank := pimage.NewWhite(100, 100)
	art, err := o.Compare(context.Background(), encoded(t, blank), encoded(t, blank),
		RenderOptions{Mode: ModeMerge, Diff: overlay.DefaultDiffParams()})
	if !errors.Is(err, alignerr.ErrEstimation) {
		t.Fatalf("expected ErrEstimation, got %v", err)
	}
	if _, ok := art.Outcome.(EstimationFailure); !ok || art.Overlay != nil {
		t.Errorf("unexpected artifacts: %+v", art)
	}
}

func TestCompareEmptyModeRendersMerge(t *testing.T) {
	old := texturedSheet(400, 400, 9)
	o := testOrchestrator(nil, nil)
	art, err := o.Compare(context.Background(), encoded(t, old), encoded(t, old),
		RenderOptions{Diff: overlay.DefaultDiffParams()})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if art.Overlay == nil {
		t.Fatal("expected a merge overlay")
	}
	if art.Deletion != nil || art.Addition != nil {
		t.Error("empty mode should not render diff masks")
	}
}

func TestStateString(t *testing.T) {
	if FallbackAttempted.String() != "fallback_attempted" || State(42).String() != "state(42)" {
		t.Error("unexpected state names")
	}
}
