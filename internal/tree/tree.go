// Package tree implements immutable updates over the bloc hierarchy.
//
// Every function returns a new Forest. Only the path from the root to the
// changed node is rebuilt; every other node keeps its pointer and content.
// Callers must treat nodes reachable from a Forest as read-only.
package tree

import (
	"github.com/hylla/canetrack/internal/domain"
)

// Forest is the ordered bloc collection.
type Forest []*domain.Bloc

// FindBloc returns the bloc with id, or nil.
func (f Forest) FindBloc(id string) *domain.Bloc {
	for _, b := range f {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// FindOperation returns the operation at the path, or nil.
func (f Forest) FindOperation(blocID, opID string) *domain.Operation {
	b := f.FindBloc(blocID)
	if b == nil {
		return nil
	}
	return b.FindOperation(opID)
}

// FindWorkPackage returns the work package at the path, or nil.
func (f Forest) FindWorkPackage(blocID, opID, wpID string) *domain.WorkPackage {
	op := f.FindOperation(blocID, opID)
	if op == nil {
		return nil
	}
	return op.FindWorkPackage(wpID)
}

// HasOperationID reports whether any bloc holds an operation with id.
func (f Forest) HasOperationID(id string) bool {
	for _, b := range f {
		if b.FindOperation(id) != nil {
			return true
		}
	}
	return false
}

// HasWorkPackageID reports whether any operation in the forest holds a work package with id.
func (f Forest) HasWorkPackageID(id string) bool {
	for _, b := range f {
		for _, op := range b.Operations {
			if op.FindWorkPackage(id) != nil {
				return true
			}
		}
	}
	return false
}

// MapBloc replaces one bloc with fn's result and re-derives it.
// A missing id returns f unchanged and false.
func MapBloc(f Forest, blocID string, fn func(domain.Bloc) domain.Bloc) (Forest, bool) {
	for idx, b := range f {
		if b.ID != blocID {
			continue
		}
		next := fn(*b).Derive()
		out := append(Forest(nil), f...)
		out[idx] = &next
		return out, true
	}
	return f, false
}

// MapOperation replaces one operation with fn's result, rebuilding its bloc.
func MapOperation(f Forest, blocID, opID string, fn func(domain.Operation) domain.Operation) (Forest, bool) {
	found := false
	out, _ := MapBloc(f, blocID, func(b domain.Bloc) domain.Bloc {
		for idx, op := range b.Operations {
			if op.ID != opID {
				continue
			}
			next := fn(*op)
			ops := append([]*domain.Operation(nil), b.Operations...)
			ops[idx] = &next
			b.Operations = ops
			found = true
			break
		}
		return b
	})
	if !found {
		return f, false
	}
	return out, true
}

// MapWorkPackage replaces one work package with fn's result, rebuilding its ancestors.
func MapWorkPackage(f Forest, blocID, opID, wpID string, fn func(domain.WorkPackage) domain.WorkPackage) (Forest, bool) {
	found := false
	out, _ := MapOperation(f, blocID, opID, func(op domain.Operation) domain.Operation {
		for idx, wp := range op.WorkPackages {
			if wp.ID != wpID {
				continue
			}
			next := fn(*wp)
			wps := append([]*domain.WorkPackage(nil), op.WorkPackages...)
			wps[idx] = &next
			op.WorkPackages = wps
			found = true
			break
		}
		return op
	})
	if !found {
		return f, false
	}
	return out, true
}

// UpdateBlocField sets one bloc field parsed from raw and bumps the bloc's version.
// A parse or validation failure leaves f unchanged.
func UpdateBlocField(f Forest, blocID string, field domain.BlocField, raw string) (Forest, bool, error) {
	b := f.FindBloc(blocID)
	if b == nil {
		return f, false, nil
	}
	next, err := b.WithField(field, raw)
	if err != nil {
		return f, true, err
	}
	out, ok := MapBloc(f, blocID, func(domain.Bloc) domain.Bloc {
		next.Version++
		return next
	})
	return out, ok, nil
}

// UpdateOperationField sets one operation field parsed from raw and bumps its version.
func UpdateOperationField(f Forest, blocID, opID string, field domain.OperationField, raw string) (Forest, bool, error) {
	op := f.FindOperation(blocID, opID)
	if op == nil {
		return f, false, nil
	}
	next, err := op.WithField(field, raw)
	if err != nil {
		return f, true, err
	}
	out, ok := MapOperation(f, blocID, opID, func(domain.Operation) domain.Operation {
		next.Version++
		return next
	})
	return out, ok, nil
}

// UpdateWorkPackageField sets one work package field parsed from raw and bumps its version.
func UpdateWorkPackageField(f Forest, blocID, opID, wpID string, field domain.WorkPackageField, raw string) (Forest, bool, error) {
	wp := f.FindWorkPackage(blocID, opID, wpID)
	if wp == nil {
		return f, false, nil
	}
	next, err := wp.WithField(field, raw)
	if err != nil {
		return f, true, err
	}
	out, ok := MapWorkPackage(f, blocID, opID, wpID, func(domain.WorkPackage) domain.WorkPackage {
		next.Version++
		return next
	})
	return out, ok, nil
}

// AdvanceWorkPackageStatus cycles one work package to its next status.
func AdvanceWorkPackageStatus(f Forest, blocID, opID, wpID string) (Forest, bool) {
	return MapWorkPackage(f, blocID, opID, wpID, func(wp domain.WorkPackage) domain.WorkPackage {
		wp.Advance()
		wp.Version++
		return wp
	})
}

// AddBloc appends b to the end of the forest.
func AddBloc(f Forest, b domain.Bloc) Forest {
	derived := b.Derive()
	out := make(Forest, 0, len(f)+1)
	out = append(out, f...)
	return append(out, &derived)
}

// AddOperation appends op to the bloc's operations.
func AddOperation(f Forest, blocID string, op domain.Operation) (Forest, bool) {
	return MapBloc(f, blocID, func(b domain.Bloc) domain.Bloc {
		ops := make([]*domain.Operation, 0, len(b.Operations)+1)
		ops = append(ops, b.Operations...)
		b.Operations = append(ops, &op)
		return b
	})
}

// AddWorkPackage appends wp to the operation's work packages.
func AddWorkPackage(f Forest, blocID, opID string, wp domain.WorkPackage) (Forest, bool) {
	return MapOperation(f, blocID, opID, func(op domain.Operation) domain.Operation {
		wps := make([]*domain.WorkPackage, 0, len(op.WorkPackages)+1)
		wps = append(wps, op.WorkPackages...)
		op.WorkPackages = append(wps, &wp)
		return op
	})
}

// DeleteBloc removes the bloc and everything it owns.
func DeleteBloc(f Forest, blocID string) (Forest, bool) {
	for idx, b := range f {
		if b.ID != blocID {
			continue
		}
		out := make(Forest, 0, len(f)-1)
		out = append(out, f[:idx]...)
		return append(out, f[idx+1:]...), true
	}
	return f, false
}

// DeleteOperation removes the operation and its work packages.
func DeleteOperation(f Forest, blocID, opID string) (Forest, bool) {
	found := false
	out, _ := MapBloc(f, blocID, func(b domain.Bloc) domain.Bloc {
		ops := make([]*domain.Operation, 0, len(b.Operations))
		for _, op := range b.Operations {
			if op.ID == opID {
				found = true
				continue
			}
			ops = append(ops, op)
		}
		b.Operations = ops
		return b
	})
	if !found {
		return f, false
	}
	return out, true
}

// DeleteWorkPackage removes one work package.
func DeleteWorkPackage(f Forest, blocID, opID, wpID string) (Forest, bool) {
	found := false
	out, _ := MapOperation(f, blocID, opID, func(op domain.Operation) domain.Operation {
		wps := make([]*domain.WorkPackage, 0, len(op.WorkPackages))
		for _, wp := range op.WorkPackages {
			if wp.ID == wpID {
				found = true
				continue
			}
			wps = append(wps, wp)
		}
		op.WorkPackages = wps
		return op
	})
	if !found {
		return f, false
	}
	return out, true
}

// Clone deep-copies the forest so the copy shares no nodes with f.
func Clone(f Forest) Forest {
	out := make(Forest, 0, len(f))
	for _, b := range f {
		nb := *b
		nb.Operations = make([]*domain.Operation, 0, len(b.Operations))
		for _, op := range b.Operations {
			nop := *op
			nop.WorkPackages = make([]*domain.WorkPackage, 0, len(op.WorkPackages))
			for _, wp := range op.WorkPackages {
				nwp := *wp
				nop.WorkPackages = append(nop.WorkPackages, &nwp)
			}
			nb.Operations = append(nb.Operations, &nop)
		}
		if b.RetiredAt != nil {
			ts := *b.RetiredAt
			nb.RetiredAt = &ts
		}
		out = append(out, &nb)
	}
	return out
}
