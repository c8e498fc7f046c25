package deploy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/poltergeist/conveyor/pkg/types"
)

// ResolveOrder returns services in an order where every service follows all
// of its DependsOn entries. Each pass admits, in declaration order, every
// service whose dependencies are already admitted, so at most len(services)
// passes are needed. A pass that admits nothing means the remaining services
// can never be satisfied and yields a ConfigurationError.
func ResolveOrder(services []types.ServiceSpec) ([]types.ServiceSpec, error) {
	known := make(map[string]bool, len(services))
	for _, svc := range services {
		if svc.Name == "" {
			return nil, &types.ConfigurationError{Reason: "service with empty name"}
		}
		if known[svc.Name] {
			return nil, &types.ConfigurationError{
				Reason:     "duplicate service name",
				Unresolved: []string{svc.Name},
			}
		}
		known[svc.Name] = true
	}

	resolved := make(map[string]bool, len(services))
	order := make([]types.ServiceSpec, 0, len(services))
	remaining := append([]types.ServiceSpec(nil), services...)

	for pass := 0; pass < len(services) && len(remaining) > 0; pass++ {
		progress := false
		pending := remaining[:0]
		for _, svc := range remaining {
			if dependenciesMet(svc, resolved) {
				resolved[svc.Name] = true
				order = append(order, svc)
				progress = true
				continue
			}
			pending = append(pending, svc)
		}
		remaining = pending
		if !progress {
			break
		}
	}

	if len(remaining) > 0 {
		return nil, unresolvedError(remaining, known)
	}
	return order, nil
}

func dependenciesMet(svc types.ServiceSpec, resolved map[string]bool) bool {
	for _, dep := range svc.DependsOn {
		if !resolved[dep] {
			return false
		}
	}
	return true
}

func unresolvedError(remaining []types.ServiceSpec, known map[string]bool) error {
	names := make([]string, 0, len(remaining))
	var missing []string
	for _, svc := range remaining {
		names = append(names, svc.Name)
		for _, dep := range svc.DependsOn {
			if !known[dep] {
				missing = append(missing, fmt.Sprintf("%s -> %s", svc.Name, dep))
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &types.ConfigurationError{
			Reason:     "unknown service dependency: " + strings.Join(missing, ", "),
			Unresolved: names,
		}
	}

	reason := "circular service dependency"
	if cycle := findCycle(remaining); len(cycle) > 0 {
		reason += ": " + strings.Join(cycle, " -> ")
	}
	return &types.ConfigurationError{Reason: reason, Unresolved: names}
}

// findCycle walks DependsOn edges depth-first and returns the first cycle
// found, closed with its starting service
func findCycle(services []types.ServiceSpec) []string {
	deps := make(map[string][]string, len(services))
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		visited[name] = true
		inStack[name] = true
		path = append(path, name)

		for _, dep := range deps[name] {
			if _, ok := deps[dep]; !ok {
				continue
			}
			if inStack[dep] {
				for i, n := range path {
					if n == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		inStack[name] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if cycle := visit(svc.Name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
