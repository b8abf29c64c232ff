package types

// RiskResult is one flagged session with its score breakdown.
type RiskResult struct {
	SessionID      string  `json:"session_id"`
	Score          float64 `json:"score"`
	IpRate         float64 `json:"ip_rate"`
	IpPenalty      float64 `json:"ip_penalty"`
	RefererPenalty float64 `json:"referer_penalty"`
	UaPenalty      float64 `json:"ua_penalty"`
	// unix seconds of the last request seen for the session
	LastSeen int64 `json:"time_point"`
}

// AccessLogEntry is a single edge access log line reduced to the fields scoring needs.
type AccessLogEntry struct {
	Timestamp int64 // unix seconds
	ViewerIP  string
	URI       string
	Referer   string
	UserAgent string
	Status    int
	Bytes     int64
}

// SaveSummary reports a batch write of flagged sessions.
type SaveSummary struct {
	Flagged int `json:"flagged"`
	Saved   int `json:"saved"`
	Failed  int `json:"failed"`
	// rejected before writing, e.g. a session id that cannot become a block rule
	Skipped int `json:"skipped,omitempty"`
}
