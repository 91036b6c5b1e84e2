// Package calsync refreshes externally hosted iCal feeds. A run is
// idempotent: a feed whose content hash did not change is left untouched.
package calsync

import "time"

// Feed is one external calendar source.
type Feed struct {
	ID           int64
	Name         string
	URL          string
	ContentHash  string
	EventCount   int
	LastSyncedAt *time.Time
}

// Result summarises a run. It is also the JSON body of the sync endpoint.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Synced    int    `json:"synced"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
}
