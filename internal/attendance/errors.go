package attendance

import "errors"

// Redemption failures. All are user-facing.
var (
	ErrCodeNotFound    = errors.New("attendance code not found")
	ErrCodeExpired     = errors.New("attendance code has expired")
	ErrAlreadyRedeemed = errors.New("attendance already marked for this code")
	ErrOutOfRange      = errors.New("you are too far from the class location")
	ErrNotEnrolled     = errors.New("this code is not for your class")
)

var (
	ErrDuplicateCode     = errors.New("attendance code collision")
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrNotSubjectTeacher = errors.New("subject is assigned to another teacher")
	ErrHoliday           = errors.New("the selected day is a holiday")
	ErrRecordExists      = errors.New("attendance is already recorded for that day")
	ErrRequestExists     = errors.New("a pending request already exists for that day")
	ErrRequestNotFound   = errors.New("attendance request not found")
	ErrRequestResolved   = errors.New("attendance request has already been resolved")
	ErrRequestPending    = errors.New("pending requests cannot be deleted")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
