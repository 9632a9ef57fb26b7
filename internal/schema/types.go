// internal/schema/types.go
package schema

import (
	"fmt"
	"math"

	"github.com/tamzrod/modsim/internal/expr"
)

// NumericType is the wire representation of a register value.
type NumericType int

const (
	U16 NumericType = iota
	U32
	I16
	I32
	F32
)

// ParseNumericType maps a normalized configuration type string.
func ParseNumericType(s string) (NumericType, error) {
	switch s {
	case "uint16":
		return U16, nil
	case "uint32":
		return U32, nil
	case "int16":
		return I16, nil
	case "int32":
		return I32, nil
	case "float32":
		return F32, nil
	default:
		return 0, fmt.Errorf("schema: unknown numeric type %q", s)
	}
}

func (t NumericType) String() string {
	switch t {
	case U16:
		return "uint16"
	case U32:
		return "uint32"
	case I16:
		return "int16"
	case I32:
		return "int32"
	case F32:
		return "float32"
	default:
		return fmt.Sprintf("NumericType(%d)", int(t))
	}
}

// Words is the number of 16-bit holding registers the type occupies.
func (t NumericType) Words() int {
	switch t {
	case U32, I32, F32:
		return 2
	default:
		return 1
	}
}

// Bounds is the representable range of the raw (post-scale) value.
func (t NumericType) Bounds() (min, max float64) {
	switch t {
	case U16:
		return 0, 65535
	case U32:
		return 0, 4294967295
	case I16:
		return -32768, 32767
	case I32:
		return -2147483648, 2147483647
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

// Role classifies a register's update rule.
type Role int

const (
	Constant Role = iota
	Random
	Accumulator
	Expression
	Writable
)

func (r Role) String() string {
	switch r {
	case Constant:
		return "constant"
	case Random:
		return "random"
	case Accumulator:
		return "accumulator"
	case Expression:
		return "expression"
	case Writable:
		return "writable"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Spec is one validated register descriptor.
// It is frozen after Build and never mutated.
type Spec struct {
	Address uint16
	Type    NumericType
	Scale   float64
	Role    Role

	Name         string
	VariableName string // Writable only
	Description  string

	BaseValue   float64
	Fluctuation float64       // Random
	Source      string        // Accumulator
	Expression  string        // Expression source text
	Program     *expr.Program // Expression, parsed once at build
	Min, Max    *float64      // Writable bounds, scaled domain
}

// Words is the number of holding registers the spec occupies.
func (s *Spec) Words() int { return s.Type.Words() }

// DisplayAddress is the 4xxxx presentation convention.
func (s *Spec) DisplayAddress() int { return 40001 + int(s.Address) }

// Set is the frozen schema of one simulation's register bank.
type Set struct {
	ByName  map[string]*Spec
	ByAddr  []*Spec           // ascending address order
	ByStart map[uint16]*Spec  // start address lookup
	Globals map[string]string // variable_name → owning register name
	Limit   uint16            // one past the highest occupied word
}
