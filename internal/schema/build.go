// internal/schema/build.go
package schema

import (
	"fmt"
	"sort"

	"github.com/tamzrod/modsim/internal/config"
	"github.com/tamzrod/modsim/internal/expr"
)

// Build converts declaratively-validated configuration registers into
// a frozen Set, or fails with a descriptive error naming the offending
// register. On error no partial schema is returned.
//
// Build enforces the cross-register invariants: disjoint address
// ranges, unique names and variable_names, and reference closure for
// expressions and accumulator sources. Cycle detection belongs to the
// dependency planner.
func Build(regs []config.Register) (*Set, error) {
	set := &Set{
		ByName:  make(map[string]*Spec, len(regs)),
		ByStart: make(map[uint16]*Spec, len(regs)),
		Globals: make(map[string]string),
	}

	for _, r := range regs {
		s, err := buildOne(r)
		if err != nil {
			return nil, err
		}

		if _, dup := set.ByName[s.Name]; dup {
			return nil, fmt.Errorf("schema: register %q: duplicate name", s.Name)
		}
		set.ByName[s.Name] = s
		set.ByAddr = append(set.ByAddr, s)

		if s.Role == Writable {
			if owner, dup := set.Globals[s.VariableName]; dup {
				return nil, fmt.Errorf("schema: register %q: variable_name %q already used by %q",
					s.Name, s.VariableName, owner)
			}
			set.Globals[s.VariableName] = s.Name
		}
	}

	// ---- address disjointness ----

	sort.Slice(set.ByAddr, func(i, j int) bool {
		return set.ByAddr[i].Address < set.ByAddr[j].Address
	})
	for i := 1; i < len(set.ByAddr); i++ {
		prev, cur := set.ByAddr[i-1], set.ByAddr[i]
		if int(prev.Address)+prev.Words() > int(cur.Address) {
			return nil, fmt.Errorf("schema: registers %q and %q overlap at address %d",
				prev.Name, cur.Name, cur.Address)
		}
	}

	last := set.ByAddr[len(set.ByAddr)-1]
	end := int(last.Address) + last.Words()
	if end > 65536 {
		return nil, fmt.Errorf("schema: register %q extends past address 65535", last.Name)
	}
	set.Limit = uint16(end)

	for _, s := range set.ByAddr {
		set.ByStart[s.Address] = s
	}

	// ---- reference closure ----

	for _, s := range set.ByAddr {
		switch s.Role {
		case Accumulator:
			if _, ok := set.ByName[s.Source]; !ok {
				return nil, fmt.Errorf("schema: register %q: accumulator source %q does not exist",
					s.Name, s.Source)
			}
		case Expression:
			for _, id := range s.Program.Identifiers() {
				if _, ok := set.ByName[id]; ok {
					continue
				}
				if _, ok := set.Globals[id]; ok {
					continue
				}
				return nil, fmt.Errorf("schema: register %q: expression references unknown name %q",
					s.Name, id)
			}
		}
	}

	return set, nil
}

func buildOne(r config.Register) (*Spec, error) {
	typ, err := ParseNumericType(r.Type)
	if err != nil {
		return nil, fmt.Errorf("schema: register %q: %w", r.Name, err)
	}

	s := &Spec{
		Address:     uint16(*r.Address),
		Type:        typ,
		Scale:       r.Scale,
		Name:        r.Name,
		Description: r.Description,
	}
	if r.BaseValue != nil {
		s.BaseValue = *r.BaseValue
	}

	switch {
	case r.Randomize:
		s.Role = Random
		s.Fluctuation = *r.Fluctuation
	case r.Accumulate:
		s.Role = Accumulator
		s.Source = r.Source
	case r.Expression != "":
		s.Role = Expression
		s.Expression = r.Expression
		prog, err := expr.Parse(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("schema: register %q: %w", r.Name, err)
		}
		s.Program = prog
	case r.Writable:
		s.Role = Writable
		s.VariableName = r.VariableName
		s.Min = r.MinValue
		s.Max = r.MaxValue
	default:
		s.Role = Constant
	}

	return s, nil
}
