package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrExamNotFound         = errors.New("exam not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrSlotNotFound         = errors.New("answer slot not found")
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
	ErrAttemptIsActive      = errors.New("attempt is still in progress")
	ErrAttemptLimitReached  = errors.New("attempt limit reached")
	ErrAttemptConflict      = errors.New("concurrent attempt start")
	ErrExamHasAttempts      = errors.New("exam already has attempts")
	ErrQuestionInUse        = errors.New("question is referenced by an attempt")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
