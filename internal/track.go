package internal

import "math"

// Track geometry, in 640x480 screen units with y growing downwards. The
// oval is two half-circle arcs joined by the top and bottom straights.
const (
	TrackCenterY = 240.0
	LeftArcX     = 200.0
	RightArcX    = 440.0
	OuterRadius  = 190.0
	InnerRadius  = 70.0
	FinishLineX  = 320.0

	OuterTopY    = TrackCenterY - OuterRadius // 50
	OuterBottomY = TrackCenterY + OuterRadius // 430
	InnerTopY    = TrackCenterY - InnerRadius // 170
	InnerBottomY = TrackCenterY + InnerRadius // 310
)

// Starting grid on the bottom straight, just past the finish line.
const (
	StartX      = 330.0
	LaneMinY    = 320.0
	LaneMaxY    = 420.0
	LaneSpacing = 40.0
	LaneCount   = 3
	RowSpacing  = 30.0
)

// OnTrack reports whether pt lies on the racing surface.
func OnTrack(pt Point) bool {
	switch {
	case pt.X < LeftArcX:
		return inRing(pt, LeftArcX)
	case pt.X > RightArcX:
		return inRing(pt, RightArcX)
	}
	if pt.Y <= OuterTopY || pt.Y >= OuterBottomY {
		return false
	}
	if pt.Y >= InnerTopY && pt.Y <= InnerBottomY {
		return false
	}
	return true
}

func inRing(pt Point, cx float64) bool {
	d := math.Hypot(pt.X-cx, pt.Y-TrackCenterY)
	return d > InnerRadius && d < OuterRadius
}

// crossedFinish holds when a move crossed the finish line forwards on the
// bottom straight.
func crossedFinish(from, to Point) bool {
	return to.Y > TrackCenterY && from.X < FinishLineX && to.X >= FinishLineX
}

// crossedHalfway holds when a move crossed the midpoint backwards on the
// top straight.
func crossedHalfway(from, to Point) bool {
	return to.Y < TrackCenterY && from.X >= FinishLineX && to.X < FinishLineX
}
