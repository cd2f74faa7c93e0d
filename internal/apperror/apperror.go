package apperror

import (
	"errors"
	"fmt"
)

// Failure kinds. Every AppError unwraps to exactly one of them.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
)

type AppError struct {
	Err     error  // failure kind
	Code    string // stable machine readable reason
	Message string // human readable message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError with the same code, so that reasons built with
// a custom message still compare equal to the declared sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func newError(kind error, code, message string) *AppError {
	return &AppError{Err: kind, Code: code, Message: message}
}

// Identity
var (
	ErrMissingCredentials = newError(ErrValidation, "missing_credentials", "username and password are two required fields")
	ErrPasswordTooShort   = newError(ErrValidation, "password_too_short", "password is too short")
	ErrUsernameTaken      = newError(ErrConflict, "username_taken", "username is busy, please select a different one")
	ErrNoMatch            = newError(ErrUnauthorized, "no_match", "no match for the specified username / password pair")
	ErrNotAuthenticated   = newError(ErrUnauthorized, "not_authenticated", "not authenticated")
	ErrUserNotFound       = newError(ErrNotFound, "user_not_found", "no such user")
	ErrRateLimited        = newError(ErrConflict, "rate_limited", "please wait some time before retrying")
	ErrWrongAPISecret     = newError(ErrUnauthorized, "wrong_api_secret", "wrong form secret")
)

// Request parameters
var (
	ErrMissingParameters = newError(ErrValidation, "missing_parameters", "missing or invalid parameters")
	ErrCountTooBig       = newError(ErrValidation, "count_too_big", "count is too big")
)

// News and votes
var (
	ErrInvalidVoteType      = newError(ErrValidation, "invalid_vote_type", "vote must be either up or down")
	ErrNewsNotFound         = newError(ErrNotFound, "news_not_found", "no such news or user")
	ErrDuplicateVote        = newError(ErrConflict, "duplicate_vote", "duplicated vote")
	ErrInsufficientKarma    = newError(ErrUnauthorized, "insufficient_karma", "you don't have enough karma to vote")
	ErrInvalidSubmission    = newError(ErrValidation, "invalid_submission", "please specify a news title and address or text")
	ErrInvalidURL           = newError(ErrValidation, "invalid_url", "we only accept http:// and https:// news")
	ErrSubmittedTooRecently = newError(ErrConflict, "submitted_too_recently", "you have submitted a story too recently")
	ErrNotAuthor            = newError(ErrUnauthorized, "not_author", "only the author can change this item")
	ErrEditWindowExpired    = newError(ErrUnauthorized, "edit_window_expired", "the item is too old to be modified")
	ErrURLRecentlyPosted    = newError(ErrConflict, "url_recently_posted", "the URL was already submitted recently")
	ErrUnknownView          = newError(ErrValidation, "unknown_view", "invalid sort parameter")
)

// Comments
var (
	ErrEmptyComment       = newError(ErrValidation, "empty_comment", "comment body is required")
	ErrCommentTooLong     = newError(ErrValidation, "comment_too_long", "comment is too long")
	ErrCommentNotFound    = newError(ErrNotFound, "comment_not_found", "no such comment")
	ErrParentNotFound     = newError(ErrNotFound, "parent_not_found", "the comment you are replying to does not exist")
	ErrCommentDeleted     = newError(ErrConflict, "comment_deleted", "the comment was already deleted")
	ErrInvalidOrDuplicate = newError(ErrConflict, "invalid_or_duplicate", "invalid or duplicated vote")
)

// With returns a copy of e carrying a more specific message.
func (e *AppError) With(format string, args ...any) *AppError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// OnField returns a copy of e naming the offending input field.
func (e *AppError) OnField(field string) *AppError {
	c := *e
	c.Field = field
	return &c
}

// Kind returns the failure kind of err, or nil for errors outside the taxonomy.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrUnauthorized, ErrConflict, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
