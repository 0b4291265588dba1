package optimization

import (
	"fmt"
	"math"
	"strings"
)

// ConstraintKind is the relation a constraint's residual must satisfy
// against its right-hand side.
type ConstraintKind int

const (
	// Upper requires residual(x) <= rhs.
	Upper ConstraintKind = iota
	// Lower requires residual(x) >= rhs.
	Lower
	// Equal requires residual(x) == rhs within tolerance.
	Equal
)

// String returns the name of the kind.
func (k ConstraintKind) String() string {
	switch k {
	case Upper:
		return "upper"
	case Lower:
		return "lower"
	case Equal:
		return "equal"
	default:
		return fmt.Sprintf("ConstraintKind(%d)", int(k))
	}
}

// Symbol returns the relational operator of the kind.
func (k ConstraintKind) Symbol() string {
	switch k {
	case Upper:
		return "<="
	case Lower:
		return ">="
	case Equal:
		return "="
	default:
		return "?"
	}
}

// ParseConstraintKind converts a name produced by String back into a kind.
func ParseConstraintKind(s string) (ConstraintKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upper", "<=":
		return Upper, nil
	case "lower", ">=":
		return Lower, nil
	case "equal", "=":
		return Equal, nil
	}
	return 0, InvalidInputf("ParseConstraintKind", "unknown constraint kind %q", s)
}

// Constraint is a residual function with a relation and a right-hand
// threshold. Bounding is the one-variable curve y = g(x) on which the
// constraint is active; it is used only for drawing.
type Constraint struct {
	Name      string
	Kind      ConstraintKind
	RightHand float64
	Residual  *Function
	Bounding  func(x float64) float64
}

// NewConstraint creates a constraint over Dimension variables.
func NewConstraint(name string, kind ConstraintKind, rhs float64, residual Func, bounding func(float64) float64) *Constraint {
	return &Constraint{
		Name:      name,
		Kind:      kind,
		RightHand: rhs,
		Residual:  NewFunction(Dimension, residual),
		Bounding:  bounding,
	}
}

// CalcValue evaluates the residual at x.
func (c *Constraint) CalcValue(x []float64) (float64, error) {
	v, err := c.Residual.CalcValue(x)
	if err != nil {
		return 0, WrapErrorf(err, "constraint %q", c.Name)
	}
	return v, nil
}

// RightHandValue returns the threshold the residual is compared against.
func (c *Constraint) RightHandValue() float64 {
	return c.RightHand
}

// BoundingValue evaluates the bounding curve at x. It returns NaN when the
// constraint has no curve.
func (c *Constraint) BoundingValue(x float64) float64 {
	if c.Bounding == nil {
		return math.NaN()
	}
	return c.Bounding(x)
}

// Violation returns how far x is from satisfying the constraint. It is zero
// for feasible points.
func (c *Constraint) Violation(x []float64) (float64, error) {
	v, err := c.CalcValue(x)
	if err != nil {
		return 0, err
	}
	return violation(c.Kind, v, c.RightHand), nil
}

// Satisfied reports whether x satisfies the constraint within tol.
func (c *Constraint) Satisfied(x []float64, tol float64) (bool, error) {
	v, err := c.Violation(x)
	if err != nil {
		return false, err
	}
	return v <= tol, nil
}

func violation(kind ConstraintKind, value, rhs float64) float64 {
	switch kind {
	case Upper:
		return math.Max(0, value-rhs)
	case Lower:
		return math.Max(0, rhs-value)
	default:
		return math.Abs(value - rhs)
	}
}
