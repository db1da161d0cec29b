package model

// Measure is a numeric signal value that may be undefined. Statistical
// components return an undefined Measure instead of propagating NaN when a
// signal cannot be computed (missing anchor-date metric, too few paired
// observations, degenerate binning), so the decision engine can distinguish
// "no drift measured" from "could not measure" deterministically.
type Measure struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
}

// DefinedMeasure wraps a computed value.
func DefinedMeasure(v float64) Measure {
	return Measure{Value: v, Defined: true}
}

// UndefinedMeasure marks a signal that could not be computed.
func UndefinedMeasure() Measure {
	return Measure{}
}

// Sub returns m minus o. Undefined when either side is undefined.
func (m Measure) Sub(o Measure) Measure {
	if !m.Defined || !o.Defined {
		return UndefinedMeasure()
	}
	return DefinedMeasure(m.Value - o.Value)
}

// Float returns a pointer suitable for nullable columns, nil when undefined.
func (m Measure) Float() *float64 {
	if !m.Defined {
		return nil
	}
	v := m.Value
	return &v
}

// MeasureFrom converts a nullable column value into a Measure.
func MeasureFrom(v *float64) Measure {
	if v == nil {
		return UndefinedMeasure()
	}
	return DefinedMeasure(*v)
}
