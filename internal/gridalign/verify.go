package gridalign

import (
	"image"
	"math"

	"plan-overlay/pkg/geometry"

	"gocv.io/x/gocv"
)

// circle is a Hough circle in full-image coordinates.
type circle struct {
	Center geometry.Point2D
	Radius float64
}

// findCircle looks for the bubble outline around box. The search crop is the
// box grown by padding on every side; the radius range is the box's half-size
// widened by slack and capped by the crop. Among detected circles the one
// closest to the box centre wins. ok is false when no circle is found.
func findCircle(gray gocv.Mat, box geometry.RectInt, padding, slack int) (circle, bool) {
	crop := geometry.RectInt{
		X:      box.X - padding,
		Y:      box.Y - padding,
		Width:  box.Width + 2*padding,
		Height: box.Height + 2*padding,
	}.Clip(gray.Cols(), gray.Rows())
	if crop.Empty() {
		return circle{}, false
	}

	region := gray.Region(toRect(crop))
	defer region.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(region, &blurred, image.Point{X: 5, Y: 5}, 1.5, 1.5, gocv.BorderDefault)

	expected := float64(min(box.Width, box.Height)) / 2
	minR := max(3, int(expected)-slack)
	maxR := min(int(math.Ceil(expected))+slack, max(crop.Width, crop.Height)/2)
	if maxR < minR {
		return circle{}, false
	}

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(blurred, &circles, gocv.HoughGradient,
		1.2, float64(max(8, minR)), 100, 30, minR, maxR)

	if circles.Empty() || circles.Cols() == 0 {
		return circle{}, false
	}

	target := geometry.Point2D{
		X: float64(box.X) + float64(box.Width)/2,
		Y: float64(box.Y) + float64(box.Height)/2,
	}
	best := circle{}
	bestDist := math.Inf(1)
	for i := 0; i < circles.Cols(); i++ {
		c := circle{
			Center: geometry.Point2D{
				X: float64(crop.X) + float64(circles.GetFloatAt(0, i*3)),
				Y: float64(crop.Y) + float64(circles.GetFloatAt(0, i*3+1)),
			},
			Radius: float64(circles.GetFloatAt(0, i*3+2)),
		}
		if d := c.Center.Distance(target); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, true
}

// lineSearch configures findGridLine.
type lineSearch struct {
	Length      int     // Window length along the line direction
	AngleTolDeg float64 // Max deviation from the axis
	MinSegment  int     // Shortest accepted segment
	HoughVotes  int     // Accumulator threshold
	MaxLineGap  int     // Largest gap bridged within a segment
}

// findGridLine searches a window starting at the bubble's rim and running
// into the sheet along the axis the edge implies: rightwards from a left-edge
// bubble, downwards from a top-edge bubble and so on. It returns the line's
// coordinate on the perpendicular axis (y for horizontal lines, x for
// vertical ones).
func findGridLine(gray gocv.Mat, c circle, edge Edge, s lineSearch) (float64, bool) {
	r := int(math.Ceil(c.Radius))
	cx, cy := int(math.Round(c.Center.X)), int(math.Round(c.Center.Y))

	var win geometry.RectInt
	switch edge {
	case EdgeLeft:
		win = geometry.RectInt{X: cx + r, Y: cy - r, Width: s.Length, Height: 2 * r}
	case EdgeRight:
		win = geometry.RectInt{X: cx - r - s.Length, Y: cy - r, Width: s.Length, Height: 2 * r}
	case EdgeTop:
		win = geometry.RectInt{X: cx - r, Y: cy + r, Width: 2 * r, Height: s.Length}
	case EdgeBottom:
		win = geometry.RectInt{X: cx - r, Y: cy - r - s.Length, Width: 2 * r, Height: s.Length}
	default:
		return 0, false
	}
	win = win.Clip(gray.Cols(), gray.Rows())
	if win.Empty() {
		return 0, false
	}

	region := gray.Region(toRect(win))
	defer region.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(region, &edges, 50, 150)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, float32(math.Pi/180),
		s.HoughVotes, float32(s.MinSegment), float32(s.MaxLineGap))
	if lines.Empty() {
		return 0, false
	}

	horizontal := edge.Orientation() == Horizontal
	bestLen := 0.0
	bestPos := 0.0
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		x1, y1 := float64(v[0]), float64(v[1])
		x2, y2 := float64(v[2]), float64(v[3])

		angle := math.Abs(math.Atan2(y2-y1, x2-x1) * 180 / math.Pi)
		var dev float64
		if horizontal {
			dev = math.Min(angle, 180-angle)
		} else {
			dev = math.Abs(90 - angle)
		}
		if dev > s.AngleTolDeg {
			continue
		}

		length := math.Hypot(x2-x1, y2-y1)
		if length <= bestLen {
			continue
		}
		bestLen = length
		if horizontal {
			bestPos = float64(win.Y) + (y1+y2)/2
		} else {
			bestPos = float64(win.X) + (x1+x2)/2
		}
	}
	if bestLen == 0 {
		return 0, false
	}
	return bestPos, true
}

func toRect(r geometry.RectInt) image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}
