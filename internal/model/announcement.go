package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// AnnouncementID identifies an announcement. Older data stored numeric ids,
// which are read back as their decimal string.
type AnnouncementID string

// UnmarshalJSON accepts both string and numeric ids.
func (id *AnnouncementID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = AnnouncementID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = AnnouncementID(n.String())
	return nil
}

// Announcement is a message posted to members.
type Announcement struct {
	ID           AnnouncementID `json:"id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Confidential bool           `json:"isConfidential"`
	Author       string         `json:"author"`
	PostedAt     time.Time      `json:"timestamp"`
	ModifiedAt   *time.Time     `json:"lastModified,omitempty"`
}
