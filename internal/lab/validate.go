package lab

import (
	"errors"
	"fmt"
)

// Validate reports structural problems that would make a lab ungradable.
// Prompt assembly itself never fails; this is for loaders and tooling
// that want to reject bad input early.
func (l *Lab) Validate() error {
	var errs []error
	seen := make(map[int]bool, len(l.Steps))
	for i, s := range l.Steps {
		if s.Index < 1 {
			errs = append(errs, fmt.Errorf("step #%d: step_index must be >= 1, got %d", i+1, s.Index))
		}
		if seen[s.Index] {
			errs = append(errs, fmt.Errorf("step #%d: duplicate step_index %d", i+1, s.Index))
		}
		seen[s.Index] = true
		if s.MaxScore < 0 {
			errs = append(errs, fmt.Errorf("step %d: score must be >= 0, got %v", s.Index, s.MaxScore))
		}
	}
	return errors.Join(errs...)
}
