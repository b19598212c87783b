package pointtree

const (
	// Programmer errors. They are raised with panic.
	ErrTypeNotMember         = "pointtree_not_member"
	ErrTypeIteratorExhausted = "pointtree_iterator_exhausted"
	ErrTypeTooManyPlanes     = "pointtree_too_many_planes"

	ErrTypeMalformedStructure = "pointtree_malformed_structure"
)
