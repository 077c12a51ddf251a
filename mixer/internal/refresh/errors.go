package refresh

import (
	"errors"
	"fmt"
)

// Stage names the refresh step that failed.
type Stage string

const (
	StageNetwork    Stage = "network"
	StageHTTPStatus Stage = "http_status"
	StagePersist    Stage = "persist"
	StageDecode     Stage = "decode"
	StageStore      Stage = "store"
)

// Stage sentinels, matched with errors.Is against a *RefreshError.
var (
	ErrNetwork    = errors.New("refresh: network failure")
	ErrHTTPStatus = errors.New("refresh: unexpected upstream status")
	ErrPersist    = errors.New("refresh: could not persist raw document")
	ErrDecode     = errors.New("refresh: could not decode document")
	ErrStore      = errors.New("refresh: could not install snapshot")
)

// RefreshError reports a failed refresh. The installed snapshot is unchanged.
type RefreshError struct {
	Stage      Stage
	StatusCode int // upstream status, StageHTTPStatus only
	Err        error
}

func (e *RefreshError) Error() string {
	if e.Stage == StageHTTPStatus {
		return fmt.Sprintf("refresh failed at %s (upstream %d): %v", e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("refresh failed at %s: %v", e.Stage, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{e.Stage.sentinel(), e.Err}
}

func (s Stage) sentinel() error {
	switch s {
	case StageNetwork:
		return ErrNetwork
	case StageHTTPStatus:
		return ErrHTTPStatus
	case StagePersist:
		return ErrPersist
	case StageDecode:
		return ErrDecode
	default:
		return ErrStore
	}
}
