package chat

import "errors"

// Error classes returned by the service. Callers match them with errors.Is; the
// wrapped message carries the human-readable detail.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrCapacityExceeded = errors.New("room is full")
)

// Detail strips the class prefix from a wrapped service error so the remaining
// text can be shown to a user.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, class := range []error{ErrValidation, ErrNotFound, ErrForbidden, ErrConflict, ErrCapacityExceeded} {
		prefix := class.Error() + ": "
		if errors.Is(err, class) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
