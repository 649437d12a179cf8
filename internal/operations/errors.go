package operations

import (
	"errors"
	"fmt"
)

var (
	ErrDistributionAlreadySet   = errors.New("shard distribution already set")
	ErrReplicaChangesAlreadySet = errors.New("shard replica changes already set")
	ErrOperationFrozen          = errors.New("operation is frozen")
	ErrUnknownKind              = errors.New("unknown operation kind")
	ErrAliasActionShape         = errors.New("alias action must carry exactly one of create_alias, delete_alias, rename_alias")
)

// ValidationError reports malformed input found before an operation is
// appended to the log.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err (or anything it wraps) is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
