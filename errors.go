package permit

import "errors"

var (
	ErrNotFound           = errors.New("permit: not found")
	ErrDuplicate          = errors.New("permit: already exists")
	ErrInvalidKey         = errors.New("permit: invalid key")
	ErrInvalidEffect      = errors.New("permit: invalid effect")
	ErrInvalidValidity    = errors.New("permit: valid_from must be before valid_until")
	ErrInvalidCondition   = errors.New("permit: invalid condition")
	ErrPolicyConflict     = errors.New("permit: policy conflicts with an existing policy")
	ErrAssignmentSubject  = errors.New("permit: assignment needs a user or a group")
	ErrAssignmentConflict = errors.New("permit: assignment conflicts with an existing assignment")
	ErrResourceInUse      = errors.New("permit: resource is referenced")
	ErrActionInUse        = errors.New("permit: action is referenced")
	ErrResourceCycle      = errors.New("permit: resource parent would create a cycle")
	ErrProtectedRole      = errors.New("permit: system role is assigned")
	ErrUnknownReference   = errors.New("permit: unknown reference")
)
