package geometry

import "testing"

func TestBoundingBoxOfEmpty(t *testing.T) {
	if _, ok := BoundingBoxOf(nil); ok {
		t.Fatal("BoundingBoxOf(nil) returned ok")
	}
	if _, ok := BoundingBoxOf([][2]float64{}); ok {
		t.Fatal("BoundingBoxOf(empty) returned ok")
	}
}

func TestBoundingBoxOfSingleVertex(t *testing.T) {
	box, ok := BoundingBoxOf([][2]float64{{3, 4}})
	if !ok {
		t.Fatal("single vertex polygon rejected")
	}
	want := Rect{X: 3, Y: 4, Width: 0, Height: 0}
	if box != want {
		t.Fatalf("BoundingBoxOf([[3,4]]) = %+v, want %+v", box, want)
	}
}

func TestBoundingBoxOfQuad(t *testing.T) {
	box, ok := BoundingBoxOf([][2]float64{{0, 0}, {10, 0}, {10, 5}, {0, 5}})
	if !ok {
		t.Fatal("quad rejected")
	}
	want := Rect{X: 0, Y: 0, Width: 10, Height: 5}
	if box != want {
		t.Fatalf("quad bbox = %+v, want %+v", box, want)
	}
}

func TestBoundingBoxOfUnorderedVertices(t *testing.T) {
	box, ok := BoundingBoxOf([][2]float64{{7, -2}, {-1, 9}, {4, 3}})
	if !ok {
		t.Fatal("polygon rejected")
	}
	want := Rect{X: -1, Y: -2, Width: 8, Height: 11}
	if box != want {
		t.Fatalf("bbox = %+v, want %+v", box, want)
	}
}

func TestNormalizeBox(t *testing.T) {
	cases := []struct {
		name           string
		x1, y1, x2, y2 float64
	}{
		{"already ordered", 1, 2, 5, 6},
		{"reversed x", 5, 2, 1, 6},
		{"reversed y", 1, 6, 5, 2},
		{"both reversed", 5, 6, 1, 2},
		{"zero area", 3, 3, 3, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x1, y1, x2, y2 := NormalizeBox(tc.x1, tc.y1, tc.x2, tc.y2)
			if x1 > x2 || y1 > y2 {
				t.Fatalf("normalized box not ordered: (%v,%v)-(%v,%v)", x1, y1, x2, y2)
			}
		})
	}
}

func TestPointInBounds(t *testing.T) {
	if !PointInBounds(0, 0, 100, 50) {
		t.Fatal("origin rejected")
	}
	if !PointInBounds(100, 50, 100, 50) {
		t.Fatal("far corner rejected")
	}
	if PointInBounds(-1, 10, 100, 50) {
		t.Fatal("negative x accepted")
	}
	if PointInBounds(10, 51, 100, 50) {
		t.Fatal("y past height accepted")
	}
}
