package world

import "errors"

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrNotReal        = errors.New("entity is not real on this cell")
	ErrShortStream    = errors.New("entity stream truncated")
	ErrSpaceNotFound  = errors.New("space not found")
	ErrUnknownType    = errors.New("unknown entity type")
)
