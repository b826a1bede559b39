package domain

import "errors"

// ErrNotFound indicates the requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicateMatric indicates a matric number collision on create
var ErrDuplicateMatric = errors.New("matric number already exists")
