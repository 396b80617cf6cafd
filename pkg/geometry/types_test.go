package geometry

import (
	"math"
	"testing"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSimilarityDecompose(t *testing.T) {
	tests := []struct {
		name     string
		scale    float64
		rotation float64
	}{
		{"identity", 1, 0},
		{"scaled", 1.2, 0},
		{"rotated", 1, 7.5},
		{"negative rotation", 0.9, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Similarity(tt.scale, tt.rotation*math.Pi/180, 4, -2)
			if !approx(m.ScaleFactor(), tt.scale, 1e-12) {
				t.Errorf("scale: got %v, want %v", m.ScaleFactor(), tt.scale)
			}
			if !approx(m.RotationDeg(), tt.rotation, 1e-9) {
				t.Errorf("rotation: got %v, want %v", m.RotationDeg(), tt.rotation)
			}
		})
	}
}

func TestComposeInverse(t *testing.T) {
	m := Similarity(1.1, 0.2, 30, -12)
	inv, ok := m.Inverse()
	if !ok {
		t.Fatal("expected invertible transform")
	}
	p := Point2D{X: 123, Y: 45}
	got := inv.Compose(m).Apply(p)
	if got.Distance(p) > 1e-9 {
		t.Errorf("inverse round trip: got %+v, want %+v", got, p)
	}

	if _, ok := AxisAligned(0, 5, 1, 0).Inverse(); ok {
		t.Error("zero-scale axis should have no inverse")
	}
}

func TestComposeAppliesRightOperandFirst(t *testing.T) {
	m := Similarity(2, math.Pi/2, 0, 0)
	shift := Translation(5, -3)
	p := Point2D{X: 1, Y: 0}

	got := shift.Compose(m).Apply(p)
	want := shift.Apply(m.Apply(p))
	if got.Distance(want) > 1e-9 {
		t.Errorf("compose order: got %+v, want %+v", got, want)
	}
	if got.Distance(Point2D{X: 5, Y: -1}) > 1e-9 {
		t.Errorf("compose value: got %+v", got)
	}
}

func TestOffsetOnlyTouchesTranslation(t *testing.T) {
	m := Similarity(1.05, 0.1, 1, 2)
	o := m.Offset(10, 20)
	if o.A != m.A || o.B != m.B || o.C != m.C || o.D != m.D {
		t.Error("linear part changed")
	}
	if o.TX != 11 || o.TY != 22 {
		t.Errorf("translation: got (%v,%v), want (11,22)", o.TX, o.TY)
	}
}

func TestParseMatrix(t *testing.T) {
	m, err := ParseMatrix([][]float64{{1, 0, 5}, {0, 1, 6}})
	if err != nil {
		t.Fatalf("ParseMatrix failed: %v", err)
	}
	if m != Translation(5, 6) {
		t.Errorf("got %+v", m)
	}

	bad := [][][]float64{
		{{1, 0, 5}},
		{{1, 0}, {0, 1}},
		{{1, 0, 5}, {0, 1, 6}, {0, 0, 1}},
	}
	for _, rows := range bad {
		if _, err := ParseMatrix(rows); err == nil {
			t.Errorf("expected error for %v", rows)
		}
	}
}

func TestRectIntClip(t *testing.T) {
	r := RectInt{X: -10, Y: 5, Width: 50, Height: 200}.Clip(30, 100)
	want := RectInt{X: 0, Y: 5, Width: 30, Height: 95}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
	if !(RectInt{X: 40, Y: 0, Width: 5, Height: 5}).Clip(30, 30).Empty() {
		t.Error("expected empty clip outside image")
	}
}

func TestBoundingBoxUnion(t *testing.T) {
	bb := BoundingBox([]Point2D{{X: -5, Y: 3}, {X: 10, Y: -2}, {X: 4, Y: 8}})
	if bb.X != -5 || bb.Y != -2 || bb.MaxX() != 10 || bb.MaxY() != 8 {
		t.Errorf("unexpected bbox %+v", bb)
	}
	u := bb.Union(Rect{X: 0, Y: 0, Width: 20, Height: 5})
	if u.X != -5 || u.Y != -2 || u.MaxX() != 20 || u.MaxY() != 8 {
		t.Errorf("unexpected union %+v", u)
	}
}
