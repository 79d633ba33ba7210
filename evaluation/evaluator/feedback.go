package evaluator

import (
	"errors"
	"fmt"
)

// FeedbackError signals an assertion failure inside an eval handler. It is the
// only error an eval handler may return without aborting the evaluation: the
// step scores zero and Message is appended to the feedback.
type FeedbackError struct {
	Message string
}

func (e *FeedbackError) Error() string {
	return e.Message
}

// Feedback builds a FeedbackError with a formatted message.
func Feedback(format string, args ...any) error {
	return &FeedbackError{Message: fmt.Sprintf(format, args...)}
}

// AsFeedback reports whether err is (or wraps) a FeedbackError.
func AsFeedback(err error) (*FeedbackError, bool) {
	var fe *FeedbackError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
