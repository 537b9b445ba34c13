// Package units provides physical units and unit-bearing values for the
// reduction pipeline. Every column of event data carries a Unit, and all
// transformations convert or reject explicitly rather than assuming scales.
package units

import (
	"errors"
	"fmt"
)

// ErrUnitMismatch is returned when a conversion is requested between units
// of different physical dimension.
var ErrUnitMismatch = errors.New("units: incompatible dimensions")

// Dim holds the exponents of the base dimensions used by the pipeline.
// Charge covers accumulated proton charge; Angle is tracked separately from
// dimensionless so degree/radian conversions stay explicit.
type Dim struct {
	Time   int
	Length int
	Angle  int
	Charge int
}

// Unit is a scaled unit over Dim. scale is the factor to base units
// (second, metre, radian, coulomb).
type Unit struct {
	dim   Dim
	scale float64
	label string
}

// Base and derived units used by the reduction.
var (
	One         = Unit{scale: 1, label: "1"}
	Second      = Unit{dim: Dim{Time: 1}, scale: 1, label: "s"}
	Millisecond = Unit{dim: Dim{Time: 1}, scale: 1e-3, label: "ms"}
	Microsecond = Unit{dim: Dim{Time: 1}, scale: 1e-6, label: "us"}
	Meter       = Unit{dim: Dim{Length: 1}, scale: 1, label: "m"}
	Millimeter  = Unit{dim: Dim{Length: 1}, scale: 1e-3, label: "mm"}
	Nanometer   = Unit{dim: Dim{Length: 1}, scale: 1e-9, label: "nm"}
	Angstrom    = Unit{dim: Dim{Length: 1}, scale: 1e-10, label: "angstrom"}
	Radian      = Unit{dim: Dim{Angle: 1}, scale: 1, label: "rad"}
	Degree      = Unit{dim: Dim{Angle: 1}, scale: 0.017453292519943295, label: "deg"}
	Coulomb     = Unit{dim: Dim{Charge: 1}, scale: 1, label: "C"}
	// MicroampHour is the unit accelerator proton charge is reported in.
	MicroampHour = Unit{dim: Dim{Charge: 1}, scale: 3.6e-3, label: "uAh"}
)

// Dim returns the dimension exponents of u.
func (u Unit) Dim() Dim { return u.dim }

// String returns the display label, e.g. "us/angstrom".
func (u Unit) String() string {
	if u.label == "" {
		return "1"
	}
	return u.label
}

// Same reports whether two units are identical in dimension and scale.
func (u Unit) Same(v Unit) bool { return u.dim == v.dim && u.scale == v.scale }

// Compatible reports whether values in u can be converted to v.
func (u Unit) Compatible(v Unit) bool { return u.dim == v.dim }

// Mul returns the product unit.
func (u Unit) Mul(v Unit) Unit {
	return Unit{
		dim: Dim{
			Time:   u.dim.Time + v.dim.Time,
			Length: u.dim.Length + v.dim.Length,
			Angle:  u.dim.Angle + v.dim.Angle,
			Charge: u.dim.Charge + v.dim.Charge,
		},
		scale: u.scale * v.scale,
		label: composeLabel(u, v, "*"),
	}
}

// Div returns the quotient unit.
func (u Unit) Div(v Unit) Unit {
	return Unit{
		dim: Dim{
			Time:   u.dim.Time - v.dim.Time,
			Length: u.dim.Length - v.dim.Length,
			Angle:  u.dim.Angle - v.dim.Angle,
			Charge: u.dim.Charge - v.dim.Charge,
		},
		scale: u.scale / v.scale,
		label: composeLabel(u, v, "/"),
	}
}

// Pow returns u raised to an integer power.
func (u Unit) Pow(n int) Unit {
	if n == 0 {
		return One
	}
	inv := n < 0
	if inv {
		n = -n
	}
	out := u
	for i := 1; i < n; i++ {
		out = out.Mul(u)
	}
	if inv {
		out = One.Div(out)
		out.label = fmt.Sprintf("%s^-%d", u.label, n)
	} else if n > 1 {
		out.label = fmt.Sprintf("%s^%d", u.label, n)
	}
	return out
}

func composeLabel(u, v Unit, op string) string {
	lu, lv := u.String(), v.String()
	if lu == "1" && op == "*" {
		return lv
	}
	if lv == "1" {
		return lu
	}
	if lu == "1" && op == "/" {
		return "1/" + lv
	}
	return lu + op + lv
}

// Factor returns the multiplier converting values in from-units to to-units.
func Factor(from, to Unit) (float64, error) {
	if from.dim != to.dim {
		return 0, fmt.Errorf("%w: %s -> %s", ErrUnitMismatch, from, to)
	}
	return from.scale / to.scale, nil
}

// Scalar is a single unit-bearing value.
type Scalar struct {
	Value float64
	Unit  Unit
}

// NewScalar constructs a Scalar.
func NewScalar(v float64, u Unit) Scalar { return Scalar{Value: v, Unit: u} }

// To converts s to the target unit.
func (s Scalar) To(u Unit) (Scalar, error) {
	f, err := Factor(s.Unit, u)
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{Value: s.Value * f, Unit: u}, nil
}

// MustTo converts and panics on dimension mismatch. Intended for constants
// built at startup from static mode tables.
func (s Scalar) MustTo(u Unit) Scalar {
	out, err := s.To(u)
	if err != nil {
		panic(err)
	}
	return out
}

func (s Scalar) String() string { return fmt.Sprintf("%g %s", s.Value, s.Unit) }
