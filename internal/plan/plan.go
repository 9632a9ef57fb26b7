// internal/plan/plan.go
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tamzrod/modsim/internal/schema"
)

// Order derives the per-tick evaluation order for a register set:
// every expression register appears after every register it
// references, and every accumulator after its source. Constants,
// randoms, and writables have no predecessors.
//
// The order is produced by Kahn's algorithm; among ready registers
// the lowest address goes first, so the result is deterministic.
// A cycle fails with an error naming the registers involved.
func Order(set *schema.Set) ([]string, error) {
	deps := make(map[string][]string, len(set.ByName)) // name → names it depends on

	for _, s := range set.ByAddr {
		switch s.Role {
		case schema.Accumulator:
			deps[s.Name] = []string{s.Source}
		case schema.Expression:
			for _, id := range s.Program.Identifiers() {
				name := id
				if owner, ok := set.Globals[id]; ok {
					name = owner
				}
				deps[s.Name] = append(deps[s.Name], name)
			}
		}
	}

	indegree := make(map[string]int, len(set.ByName))
	dependents := make(map[string][]string, len(set.ByName))
	for name := range set.ByName {
		indegree[name] = 0
	}
	for name, ds := range deps {
		for _, d := range ds {
			indegree[name]++
			dependents[d] = append(dependents[d], name)
		}
	}

	ready := make([]string, 0, len(set.ByName))
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(set.ByName))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return set.ByName[ready[i]].Address < set.ByName[ready[j]].Address
		})
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(set.ByName) {
		var cyclic []string
		for name, n := range indegree {
			if n > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("plan: dependency cycle involving %s", strings.Join(cyclic, ", "))
	}

	return order, nil
}
