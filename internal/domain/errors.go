package domain

import "errors"

// Store sentinels. Implementations wrap these so callers can match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrForeignKey = errors.New("foreign key violation")
)
