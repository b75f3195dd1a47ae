package coord

import "math"

// Vector3 is a position or a direction (roll, pitch, yaw) in world units.
type Vector3 struct {
	X, Y, Z float32
}

func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Scale(f float32) Vector3 {
	return Vector3{v.X * f, v.Y * f, v.Z * f}
}

func (v Vector3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// DistanceXZ ignores height.
func (v Vector3) DistanceXZ(o Vector3) float32 {
	dx, dz := v.X-o.X, v.Z-o.Z
	return float32(math.Sqrt(float64(dx*dx + dz*dz)))
}

func (v Vector3) axis(a Axis) float32 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// Axis indexes one of the three sorted lists.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	numAxes
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return "?"
}

var negInf = float32(math.Inf(-1))
