package repository

import "errors"

// ErrNotFound is returned when a row does not exist or is not owned by
// the requesting user. The two cases are deliberately indistinguishable
// so callers cannot probe for other owners' resources.
var ErrNotFound = errors.New("record not found")
