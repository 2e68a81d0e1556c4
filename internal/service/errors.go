package service

import (
	"errors"
	"fmt"
)

// Error categories. Handlers map these onto HTTP statuses with errors.Is,
// so every error returned by a service wraps exactly one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Specific errors carry their category so callers can match either.
var (
	ErrExamNotFound         = fmt.Errorf("%w: exam", ErrNotFound)
	ErrQuestionNotFound     = fmt.Errorf("%w: question", ErrNotFound)
	ErrAttemptNotFound      = fmt.Errorf("%w: attempt", ErrNotFound)
	ErrNoActiveAttempt      = fmt.Errorf("%w: no attempt in progress", ErrNotFound)
	ErrExamNotAvailable     = fmt.Errorf("%w: exam not available", ErrForbidden)
	ErrMaxAttemptsExceeded  = fmt.Errorf("%w: max attempts exceeded", ErrForbidden)
	ErrNotAttemptOwner      = fmt.Errorf("%w: attempt belongs to another user", ErrForbidden)
	ErrNotExamAuthor        = fmt.Errorf("%w: not the exam author", ErrForbidden)
	ErrResultsHidden        = fmt.Errorf("%w: results are not shown for this exam", ErrForbidden)
	ErrAttemptNotActive     = fmt.Errorf("%w: attempt is not in progress", ErrInvalidState)
	ErrAttemptNotTerminal   = fmt.Errorf("%w: attempt is still in progress", ErrInvalidState)
	ErrTimeExpired          = fmt.Errorf("%w: time limit exceeded", ErrInvalidState)
	ErrExamLocked           = fmt.Errorf("%w: exam already has attempts", ErrInvalidState)
	ErrQuestionLocked       = fmt.Errorf("%w: question is referenced by an exam", ErrInvalidState)
	ErrQuestionNotApproved  = fmt.Errorf("%w: exam contains unapproved questions", ErrInvalidState)
	ErrExamNotDraft         = fmt.Errorf("%w: exam is not a draft", ErrInvalidState)
	ErrQuestionNotInAttempt = fmt.Errorf("%w: question is not part of this attempt", ErrNotFound)
	ErrInvalidIndex         = fmt.Errorf("%w: question index out of range", ErrInvalidInput)
	ErrInvalidOption        = fmt.Errorf("%w: selected option out of range", ErrInvalidInput)
	ErrInvalidQuestion      = fmt.Errorf("%w: question definition", ErrInvalidInput)
)

// categorized reports whether err already wraps one of the categories.
func categorized(err error) bool {
	for _, c := range []error{ErrNotFound, ErrForbidden, ErrInvalidState, ErrInvalidInput, ErrInternal} {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}
