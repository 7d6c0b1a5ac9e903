package geometry

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

func box(x, y, w, h int) schemas.BoundingBox {
	return schemas.BoundingBox{X: x, Y: y, W: w, H: h}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b schemas.BoundingBox
		want float64
	}{
		{"identical", box(0, 0, 10, 10), box(0, 0, 10, 10), 1},
		{"disjoint", box(0, 0, 10, 10), box(20, 20, 5, 5), 0},
		{"touching edges", box(0, 0, 10, 10), box(10, 0, 10, 10), 0},
		{"half overlap", box(0, 0, 10, 10), box(5, 0, 10, 10), 50.0 / 150.0},
		{"contained", box(0, 0, 10, 10), box(0, 0, 5, 10), 0.5},
		{"both degenerate", box(3, 3, 0, 0), box(3, 3, 0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-9)
		})
	}
}

func TestContainsPoint(t *testing.T) {
	b := box(10, 10, 20, 20)
	assert.True(t, ContainsPoint(b, schemas.Point{X: 15, Y: 15}))
	assert.True(t, ContainsPoint(b, schemas.Point{X: 10, Y: 30}), "bounds are inclusive")
	assert.False(t, ContainsPoint(b, schemas.Point{X: 31, Y: 15}))
	assert.False(t, ContainsPoint(box(5, 5, 0, 10), schemas.Point{X: 5, Y: 8}), "zero area contains nothing")
}

func TestOverlapsTolerance(t *testing.T) {
	a := box(0, 0, 10, 10)
	assert.False(t, Overlaps(a, box(13, 0, 5, 5), 2))
	assert.True(t, Overlaps(a, box(11, 0, 5, 5), 2))
	assert.True(t, Overlaps(a, box(5, 5, 5, 5), 0))
}

func TestScale(t *testing.T) {
	// A frame preprocessed at 0.5x from 2000x1000 maps (100,100) back to (200,200).
	p := Scale(schemas.Point{X: 100, Y: 100}, 2000.0/1000.0, 1000.0/500.0, schemas.Point{})
	assert.Equal(t, schemas.Point{X: 200, Y: 200}, p)

	shifted := Scale(schemas.Point{X: 10, Y: 10}, 1, 1, schemas.Point{X: 300, Y: 0})
	assert.Equal(t, schemas.Point{X: 310, Y: 10}, shifted)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, box(0, 0, 10, 10), Clamp(box(-5, -3, 10, 10), 100, 100))
	assert.Equal(t, box(90, 95, 10, 5), Clamp(box(95, 99, 10, 5), 100, 100))
	assert.Equal(t, box(0, 0, 200, 10), Clamp(box(5, 0, 200, 10), 100, 100))
}

func TestIoUAlgebra(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("iou is symmetric and bounded", prop.ForAll(
		func(ax, ay, aw, ah, bx, by, bw, bh int) bool {
			a, b := box(ax, ay, aw, ah), box(bx, by, bw, bh)
			v := IoU(a, b)
			return v == IoU(b, a) && v >= 0 && v <= 1
		},
		gen.IntRange(-50, 50), gen.IntRange(-50, 50), gen.IntRange(0, 80), gen.IntRange(0, 80),
		gen.IntRange(-50, 50), gen.IntRange(-50, 50), gen.IntRange(0, 80), gen.IntRange(0, 80),
	))

	properties.Property("iou of a box with itself is one", prop.ForAll(
		func(x, y, w, h int) bool {
			return IoU(box(x, y, w, h), box(x, y, w, h)) == 1
		},
		gen.IntRange(-100, 100), gen.IntRange(-100, 100), gen.IntRange(1, 200), gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

func TestIoUDisjointProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := box(
			rapid.IntRange(0, 100).Draw(rt, "ax"),
			rapid.IntRange(0, 100).Draw(rt, "ay"),
			rapid.IntRange(1, 50).Draw(rt, "aw"),
			rapid.IntRange(1, 50).Draw(rt, "ah"),
		)
		gap := rapid.IntRange(0, 30).Draw(rt, "gap")
		b := box(a.Right()+gap, rapid.IntRange(-100, 200).Draw(rt, "by"),
			rapid.IntRange(1, 50).Draw(rt, "bw"), rapid.IntRange(1, 50).Draw(rt, "bh"))
		if IoU(a, b) != 0 {
			rt.Fatalf("boxes %v and %v do not overlap but iou=%v", a, b, IoU(a, b))
		}
	})
}
