// Package geometry holds the box arithmetic shared by fusion, enrichment and
// annotation. Every function is pure and total.
package geometry

import (
	"math"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// IoU returns the intersection over union of two axis-aligned boxes.
// Non-overlapping boxes and degenerate unions yield 0.
func IoU(a, b schemas.BoundingBox) float64 {
	inter := Intersection(a, b).Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Intersection returns the overlapping rectangle of a and b, or a zero box.
func Intersection(a, b schemas.BoundingBox) schemas.BoundingBox {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.Right(), b.Right())
	y2 := min(a.Bottom(), b.Bottom())
	if x2 <= x1 || y2 <= y1 {
		return schemas.BoundingBox{}
	}
	return schemas.BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// ContainsPoint reports whether p lies inside box, bounds inclusive.
// A box with zero area contains nothing.
func ContainsPoint(box schemas.BoundingBox, p schemas.Point) bool {
	if box.Area() == 0 {
		return false
	}
	return p.X >= float64(box.X) && p.X <= float64(box.Right()) &&
		p.Y >= float64(box.Y) && p.Y <= float64(box.Bottom())
}

// ContainsCenter reports whether the center of inner lies inside outer.
func ContainsCenter(outer, inner schemas.BoundingBox) bool {
	return ContainsPoint(outer, inner.Center())
}

// Overlaps reports whether two boxes overlap once each is grown by tolerance
// pixels on every side.
func Overlaps(a, b schemas.BoundingBox, tolerance int) bool {
	return a.X < b.Right()+tolerance && a.Right()+tolerance > b.X &&
		a.Y < b.Bottom()+tolerance && a.Bottom()+tolerance > b.Y
}

// Distance is the euclidean distance between two points.
func Distance(p, q schemas.Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Scale multiplies a point by per-axis factors and then shifts it by offset.
func Scale(p schemas.Point, sx, sy float64, offset schemas.Point) schemas.Point {
	return schemas.Point{X: p.X*sx + offset.X, Y: p.Y*sy + offset.Y}
}

// Clamp constrains a box origin so the box stays inside a w x h frame where
// possible. Boxes larger than the frame are pinned to the origin.
func Clamp(box schemas.BoundingBox, w, h int) schemas.BoundingBox {
	box.X = max(0, min(box.X, w-box.W))
	box.Y = max(0, min(box.Y, h-box.H))
	return box
}
