package store

// Combination is one record of the mapping. Left and right are kept as the
// document wrote them; lookups go through the normalised pair.
type Combination struct {
	BaseEmoji  string `json:"base_emoji"`
	LeftEmoji  string `json:"left_emoji"`
	RightEmoji string `json:"right_emoji"`
	ImageURL   string `json:"image_url"`
}

// Snapshot describes the installed mapping.
type Snapshot struct {
	Generation  int64  `json:"generation"`
	RefreshID   string `json:"refresh_id"`
	Records     int    `json:"records"`
	Skipped     int    `json:"skipped"`
	SourceHash  string `json:"source_hash"`
	InstalledAt int64  `json:"installed_at"` // unix ms
}

// ReplaceInput is the full content of a new snapshot.
type ReplaceInput struct {
	RefreshID  string
	Records    []Combination
	Skipped    int
	SourceHash string
}

// RefreshLogEntry is one refresh attempt.
type RefreshLogEntry struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "ok" | "error"
	Stage        string `json:"stage,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`
	Records      int    `json:"records"`
	Skipped      int    `json:"skipped"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	StartedAt    int64  `json:"started_at"` // unix ms
}
