package subscription

import (
	"fmt"

	"github.com/docsift/docsift/internal/tier"
)

// DenialKind categorizes why an action was refused.
type DenialKind string

const (
	DenialUploadLimit  DenialKind = "upload_limit_reached"
	DenialFileTooLarge DenialKind = "file_too_large"
	DenialQueryLimit   DenialKind = "query_limit_reached"
	DenialDefaultKeys  DenialKind = "default_keys_not_allowed"
)

// Sentinel targets for errors.Is matching.
var (
	ErrUploadLimitReached    = &DenialError{Kind: DenialUploadLimit}
	ErrFileTooLarge          = &DenialError{Kind: DenialFileTooLarge}
	ErrQueryLimitReached     = &DenialError{Kind: DenialQueryLimit}
	ErrDefaultKeysNotAllowed = &DenialError{Kind: DenialDefaultKeys}
)

// DenialError is returned when a quota or capability check refuses an
// action. It carries the current tier and the specific limit violated so the
// caller can render an upgrade prompt.
type DenialError struct {
	Kind    DenialKind
	Tier    tier.Tier
	Limit   int
	Message string
}

func (e *DenialError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s (tier %s, limit %d)", e.Kind, e.Tier, e.Limit)
}

// Is matches any DenialError of the same kind, so callers can branch with
// errors.Is(err, subscription.ErrQueryLimitReached).
func (e *DenialError) Is(target error) bool {
	other, ok := target.(*DenialError)
	return ok && other.Kind == e.Kind
}

func denial(kind DenialKind, t tier.Tier, limit int, format string, args ...interface{}) *DenialError {
	return &DenialError{
		Kind:    kind,
		Tier:    t,
		Limit:   limit,
		Message: fmt.Sprintf(format, args...),
	}
}
