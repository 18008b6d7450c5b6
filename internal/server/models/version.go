package models

import "time"

// RecordVersion is the persisted form of one version-chain entry.
type RecordVersion struct {
	RecordID       string
	Version        int
	ContentAddress string
	ContentHash    string
	PreviousRoot   string
	Root           string
	CreatedBy      string
	CreatedAt      time.Time
}
