package landmark

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mesh() []Landmark {
	lms := make([]Landmark, MeshSize)
	for i := range lms {
		lms[i] = Landmark{X: 0.5, Y: 0.5, Z: float64(i) / 1000}
	}
	return lms
}

func TestSelectPose(t *testing.T) {
	t.Run("sequence order", func(t *testing.T) {
		lms := mesh()
		got, err := SelectPose(nil, lms)
		require.NoError(t, err)
		require.Len(t, got, PoseCount)
		want := []int{NoseTip, LeftEyeOuter, MouthLeft, Chin, RightEyeOuter, MouthRight}
		for i, idx := range want {
			assert.Equal(t, lms[idx], got[i], "position %d", i)
		}
	})

	t.Run("reuses destination", func(t *testing.T) {
		buf := make([]Landmark, 0, PoseCount)
		got, err := SelectPose(buf[:0], mesh())
		require.NoError(t, err)
		assert.Len(t, got, PoseCount)
		assert.Equal(t, cap(buf), cap(got))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := SelectPose(nil, make([]Landmark, MouthRight))
		assert.True(t, errors.Is(err, ErrMalformedLandmarks))

		got, err := SelectPose(nil, make([]Landmark, MouthRight+1))
		require.NoError(t, err)
		assert.Len(t, got, PoseCount)
	})
}

func TestModelAndPixel(t *testing.T) {
	lm := Landmark{X: 0.25, Y: 0.5, Z: -0.03}
	p := lm.Pixel(640, 480)
	assert.InDelta(t, 160, p.X, 1e-9)
	assert.InDelta(t, 240, p.Y, 1e-9)
	m := lm.Model(640, 480)
	assert.InDelta(t, 160, m.X, 1e-9)
	assert.InDelta(t, 240, m.Y, 1e-9)
	assert.InDelta(t, -0.03, m.Z, 1e-12)
}

func TestRectContains(t *testing.T) {
	box := Rect{Left: 10, Top: 10, Right: 100, Bottom: 100}
	assert.True(t, box.Contains(Rect{Left: 20, Top: 20, Right: 90, Bottom: 90}))
	assert.True(t, box.Contains(box))
	assert.False(t, box.Contains(Rect{Left: 5, Top: 20, Right: 90, Bottom: 90}))
	assert.False(t, box.Contains(Rect{Left: 20, Top: 20, Right: 90, Bottom: 101}))
	assert.False(t, Rect{}.Contains(Rect{}))
}

func TestOvalRect(t *testing.T) {
	r := OvalRect(1081, 1400)
	// integer centre: 1081/2 == 540
	assert.InDelta(t, 540-1081/2.8, r.Left, 1e-9)
	assert.InDelta(t, 540+1081/2.8, r.Right, 1e-9)
	assert.InDelta(t, 1400/2.8-1400/3.4, r.Top, 1e-9)
	assert.InDelta(t, 1400/2.8+1400/3.4, r.Bottom, 1e-9)
	assert.False(t, r.Empty())
}

func framedMesh() []Landmark {
	lms := mesh()
	lms[LeftCheek] = Landmark{X: 0.3, Y: 0.5}
	lms[RightCheek] = Landmark{X: 0.7, Y: 0.5}
	lms[Forehead] = Landmark{X: 0.5, Y: 0.25}
	lms[LowerChin] = Landmark{X: 0.5, Y: 0.7}
	return lms
}

func TestIsInsideTheBox(t *testing.T) {
	lms := framedMesh()
	// 480x640 image into a 960x1280 view: scale 2.
	box := Rect{Left: 200, Top: 200, Right: 760, Bottom: 1000}
	assert.True(t, IsInsideTheBox(lms, 480, 640, box, 960, 1280))

	t.Run("cheek outside", func(t *testing.T) {
		wide := framedMesh()
		wide[RightCheek].X = 0.9
		assert.False(t, IsInsideTheBox(wide, 480, 640, box, 960, 1280))
	})

	t.Run("cover fit takes the larger ratio", func(t *testing.T) {
		// width ratio 2, height ratio 1: scale stays 2
		assert.True(t, IsInsideTheBox(lms, 480, 640, box, 960, 640))
	})

	t.Run("invariant under uniform scaling", func(t *testing.T) {
		for _, k := range []int{2, 3, 5} {
			for _, b := range []Rect{box, {Left: 300, Top: 100, Right: 700, Bottom: 900}} {
				want := IsInsideTheBox(lms, 480, 640, b, 960, 1280)
				got := IsInsideTheBox(lms, 480*k, 640*k, b.Scale(float64(k)), 960*k, 1280*k)
				assert.Equal(t, want, got, "k=%d box=%v", k, b)
			}
		}
	})

	t.Run("degenerate input", func(t *testing.T) {
		assert.False(t, IsInsideTheBox(lms[:RightCheek], 480, 640, box, 960, 1280))
		assert.False(t, IsInsideTheBox(lms, 0, 640, box, 960, 1280))
		assert.False(t, IsInsideTheBox(lms, 480, 640, box, 0, 1280))
	})
}
