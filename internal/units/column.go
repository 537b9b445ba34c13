package units

import "fmt"

// Column is a unit-bearing array of values. Columns back every per-event and
// per-pixel coordinate in the pipeline. An optional Variances slice carries
// per-element statistical variance; nil means no uncertainty information.
type Column struct {
	Values    []float64
	Variances []float64
	Unit      Unit
}

// NewColumn wraps values in a column with the given unit.
func NewColumn(values []float64, u Unit) Column {
	return Column{Values: values, Unit: u}
}

// Filled returns a column of n copies of value.
func Filled(n int, value float64, u Unit) Column {
	v := make([]float64, n)
	for i := range v {
		v[i] = value
	}
	return Column{Values: v, Unit: u}
}

// Len returns the number of elements.
func (c Column) Len() int { return len(c.Values) }

// Clone returns a deep copy of the column.
func (c Column) Clone() Column {
	out := Column{Unit: c.Unit, Values: append([]float64(nil), c.Values...)}
	if c.Variances != nil {
		out.Variances = append([]float64(nil), c.Variances...)
	}
	return out
}

// DropVariances returns a shallow view of the column without uncertainty
// information. Used wherever propagating variances through a non-linear or
// iterative computation would produce correlated, statistically invalid
// errors.
func (c Column) DropVariances() Column {
	return Column{Values: c.Values, Unit: c.Unit}
}

// To converts all values (and variances) to the target unit.
func (c Column) To(u Unit) (Column, error) {
	f, err := Factor(c.Unit, u)
	if err != nil {
		return Column{}, err
	}
	out := Column{Unit: u, Values: make([]float64, len(c.Values))}
	for i, v := range c.Values {
		out.Values[i] = v * f
	}
	if c.Variances != nil {
		out.Variances = make([]float64, len(c.Variances))
		for i, v := range c.Variances {
			out.Variances[i] = v * f * f
		}
	}
	return out, nil
}

// CheckLen returns an error naming the column when its length differs from n.
func (c Column) CheckLen(name string, n int) error {
	if len(c.Values) != n {
		return fmt.Errorf("units: column %q has %d elements, want %d", name, len(c.Values), n)
	}
	return nil
}
