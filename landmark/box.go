package landmark

import "math"

// Rect is an axis-aligned rectangle in view coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Left >= r.Right || r.Top >= r.Bottom
}

// Contains reports whether o lies entirely inside r, edges included. An
// empty r contains nothing.
func (r Rect) Contains(o Rect) bool {
	return !r.Empty() &&
		r.Left <= o.Left && r.Top <= o.Top &&
		r.Right >= o.Right && r.Bottom >= o.Bottom
}

// Scale multiplies every edge by k.
func (r Rect) Scale(k float64) Rect {
	return Rect{Left: r.Left * k, Top: r.Top * k, Right: r.Right * k, Bottom: r.Bottom * k}
}

// OvalRect is the bounding rectangle of the framing oval drawn over a view of
// the given size. The horizontal centre uses integer division.
func OvalRect(viewWidth, viewHeight int) Rect {
	cx := float64(viewWidth / 2)
	cy := float64(viewHeight) / 2.8
	rx := float64(viewWidth) / 2.8
	ry := float64(viewHeight) / 3.4
	return Rect{Left: cx - rx, Top: cy - ry, Right: cx + rx, Bottom: cy + ry}
}

// IsInsideTheBox reports whether the face outline (left cheek, forehead,
// right cheek, lower chin) falls inside box once the image is cover-fit
// scaled into the view.
func IsInsideTheBox(lms []Landmark, imageWidth, imageHeight int, box Rect, viewWidth, viewHeight int) bool {
	if imageWidth <= 0 || imageHeight <= 0 || viewWidth <= 0 || viewHeight <= 0 {
		return false
	}
	if len(lms) <= RightCheek {
		return false
	}
	w, h := float64(imageWidth), float64(imageHeight)
	scale := math.Max(float64(viewWidth)/w, float64(viewHeight)/h)
	face := Rect{
		Left:   lms[LeftCheek].X * w * scale,
		Top:    lms[Forehead].Y * h * scale,
		Right:  lms[RightCheek].X * w * scale,
		Bottom: lms[LowerChin].Y * h * scale,
	}
	return box.Contains(face)
}
