package model

// CommitBatch is an ordered list of item changes submitted by one device.
// RequestID is chosen by the client and echoed in the notification so the
// committing device can correlate its own changes.
type CommitBatch struct {
	RequestID string  `json:"request_id"`
	Items     []*Item `json:"items"`
}

// CommitInfo is the outcome for one submitted item.
// On success Version is the assigned version and Item the stored row.
// On a version conflict Item carries the server's current copy.
type CommitInfo struct {
	Committed   bool   `json:"committed"`
	Version     int64  `json:"version"`
	Item        *Item  `json:"item,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}
