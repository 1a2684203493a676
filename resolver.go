package plugins

import (
	"sort"
	"strings"
)

// ActivateFunc attempts to activate d and reports whether it succeeded.
// remaining is the queue length including d, total the initial queue length.
type ActivateFunc func(d *Descriptor, remaining, total int) bool

// Resolve activates candidates in an order that satisfies their dependencies.
//
// Candidates are stably sorted by Index and queued. Up to len(candidates)²
// times the front candidate is examined: if every dependency names a module
// recorded as active with at least the required version, activate is called
// once and the candidate leaves the queue whatever the outcome; otherwise it
// moves to the back (a lone candidate stays put). Successful activations are
// recorded under the lower-cased module name.
//
// resolved seeds the record with modules that are already active; it is not
// modified. Resolve returns the candidates still queued when the budget ran out.
func Resolve(candidates []*Descriptor, resolved map[string]float64, activate ActivateFunc) []*Descriptor {
	queue := make([]*Descriptor, len(candidates))
	copy(queue, candidates)
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Index < queue[j].Index
	})

	versions := make(map[string]float64, len(resolved)+len(queue))
	for name, v := range resolved {
		versions[strings.ToLower(name)] = v
	}

	total := len(queue)
	budget := total * total

	for try := 0; try < budget && len(queue) > 0; try++ {
		d := queue[0]

		if !satisfied(d, versions) {
			if len(queue) > 1 {
				queue = append(queue[1:], d)
			}
			continue
		}

		if activate(d, len(queue), total) {
			versions[d.key()] = d.Version
		}
		queue = queue[1:]
	}

	return queue
}

func satisfied(d *Descriptor, versions map[string]float64) bool {
	return len(unmet(d, versions)) == 0
}

// unmet returns the dependencies of d not satisfied by versions.
func unmet(d *Descriptor, versions map[string]float64) []Dependency {
	var missing []Dependency
	for _, dep := range d.Dependencies {
		v, ok := versions[strings.ToLower(dep.Name)]
		if !ok || v < dep.Version {
			missing = append(missing, dep)
		}
	}
	return missing
}

// progress converts queue position into a percentage.
func progress(remaining, total int) int {
	if total == 0 {
		return 100
	}
	return int(100 * (1 - float64(remaining)/float64(total)))
}
