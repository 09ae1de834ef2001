package domain

import "sort"

// Flow is the ordered step configuration for one product line. Flows are
// immutable once loaded; executors never mutate them.
type Flow struct {
	ProductLineCode string `yaml:"product_line_code"`
	Name            string `yaml:"name"`
	Version         int    `yaml:"version"`
	Steps           []Step `yaml:"steps"`
}

// ActiveSteps returns the active steps ordered by StepOrder. The sort is
// stable so steps sharing an order value keep their definition order.
func (f *Flow) ActiveSteps() []Step {
	steps := make([]Step, 0, len(f.Steps))
	for _, step := range f.Steps {
		if step.IsActive {
			steps = append(steps, step)
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
	return steps
}
