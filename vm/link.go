package vm

import (
	"errors"
	"fmt"
)

// ErrAlreadyLinked is returned when Link runs twice on one program.
var ErrAlreadyLinked = errors.New("program is already linked")

// Link patches every recorded call immediate with its resolved target id.
// It must run once, after all generation has finished. Every problem is
// reported; the program is only marked linked when there were none.
func (p *Program) Link() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.linked {
		return ErrAlreadyLinked
	}

	var errs []error
	for _, pc := range p.pieces {
		for _, r := range pc.relocs {
			if r.Target == nil {
				errs = append(errs, fmt.Errorf("%s: relocation at cell %d has no target", pc.Name, r.Cell))
				continue
			}
			id := r.Target.ID()
			if id == 0 {
				errs = append(errs, fmt.Errorf("%s: call to %q at cell %d is unresolved", pc.Name, r.Target.Name, r.Cell))
				continue
			}
			if id > 0 && int(id) > len(p.pieces) {
				errs = append(errs, fmt.Errorf("%s: call to %q resolves to missing piece %d", pc.Name, r.Target.Name, id-1))
				continue
			}
			if err := pc.Code.PatchImmediate(r.Cell, id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", pc.Name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("link: %w", errors.Join(errs...))
	}

	for _, pc := range p.pieces {
		pc.relocs = nil
	}
	p.linked = true
	return nil
}
