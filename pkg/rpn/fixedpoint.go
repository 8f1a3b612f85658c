package rpn

import "math"

// DefaultFixedPointPrecision is the default Q-format fractional width
// (2^16), per spec.md §4.3.
const DefaultFixedPointPrecision = 16

// FixedPoint converts between Go float64 and the fixed-point
// representation used by assembly-time `.` literals and the `fixed-point
// math` built-in functions. Its precision is configurable via `-Q` in the
// real toolchain; here it is a plain field defaulting to 16.
type FixedPoint struct {
	Precision int
}

// NewFixedPoint builds a FixedPoint with the given fractional bit width.
func NewFixedPoint(precision int) FixedPoint {
	if precision <= 0 {
		precision = DefaultFixedPointPrecision
	}
	return FixedPoint{Precision: precision}
}

func (f FixedPoint) factor() float64 { return math.Ldexp(1, f.Precision) }

// ToFloat converts a raw Q-format integer into a float64.
func (f FixedPoint) ToFloat(v int32) float64 { return float64(v) / f.factor() }

// FromFloat converts a float64 into its raw Q-format representation,
// wrapping on overflow like every other 32-bit RPN value.
func (f FixedPoint) FromFloat(v float64) int32 { return int32(uint32(int64(v * f.factor()))) }

// Mul multiplies two fixed-point values: (a*b) >> precision.
func (f FixedPoint) Mul(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> uint(f.Precision))
}

// Div divides two fixed-point values: (a << precision) / b.
func (f FixedPoint) Div(a, b int32) int32 {
	return int32((int64(a) << uint(f.Precision)) / int64(b))
}

// circleUnits returns the value representing a full turn (2*factor), the
// convention spec.md §4.3 uses so that sin/cos/... take a Q-format angle
// where one full circle equals 2*precisionFactor instead of 2*pi.
func (f FixedPoint) circleUnits() float64 { return 2 * f.factor() }

func (f FixedPoint) angleToRadians(v int32) float64 {
	return f.ToFloat(v) * 2 * math.Pi / (f.circleUnits() / f.factor())
}

// Sin/Cos/Tan/Asin/Acos/Atan/Atan2 implement spec.md §4.3's "full circle is
// 2*precisionFactor" fixed-point trigonometric functions.
func (f FixedPoint) Sin(v int32) int32 { return f.FromFloat(math.Sin(f.angleToRadians(v))) }
func (f FixedPoint) Cos(v int32) int32 { return f.FromFloat(math.Cos(f.angleToRadians(v))) }
func (f FixedPoint) Tan(v int32) int32 { return f.FromFloat(math.Tan(f.angleToRadians(v))) }

func (f FixedPoint) radiansToAngle(rad float64) int32 {
	return f.FromFloat(rad * (f.circleUnits() / f.factor()) / (2 * math.Pi))
}

func (f FixedPoint) Asin(v int32) int32  { return f.radiansToAngle(math.Asin(f.ToFloat(v))) }
func (f FixedPoint) Acos(v int32) int32  { return f.radiansToAngle(math.Acos(f.ToFloat(v))) }
func (f FixedPoint) Atan(v int32) int32  { return f.radiansToAngle(math.Atan(f.ToFloat(v))) }
func (f FixedPoint) Atan2(y, x int32) int32 {
	return f.radiansToAngle(math.Atan2(f.ToFloat(y), f.ToFloat(x)))
}
