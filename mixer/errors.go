package mixer

import (
	"errors"

	"github.com/hazyhaar/emojimix/mixer/internal/refresh"
)

// ErrInputFormat is returned when a query is not two non-empty emoji tokens.
var ErrInputFormat = errors.New("mixer: expected two emoji separated by '_'")

// ErrNotFound is returned when no combination exists for the pair.
var ErrNotFound = errors.New("mixer: not found")

// ErrNotInitialized is returned when no mapping has been installed and the
// bootstrap did not install one.
var ErrNotInitialized = errors.New("mixer: mapping not initialized")

// Refresh stage sentinels. A failed refresh returns a *RefreshError that
// matches exactly one of them with errors.Is.
var (
	ErrNetwork    = refresh.ErrNetwork
	ErrHTTPStatus = refresh.ErrHTTPStatus
	ErrPersist    = refresh.ErrPersist
	ErrDecode     = refresh.ErrDecode
	ErrStore      = refresh.ErrStore
)

// RefreshError reports the stage at which a refresh failed.
type RefreshError = refresh.RefreshError

// RefreshOutcome describes a refresh that did not fail.
type RefreshOutcome = refresh.Outcome

// Refresh outcome statuses.
const (
	RefreshCompleted         = refresh.Completed
	RefreshAlreadyInProgress = refresh.AlreadyInProgress
)
