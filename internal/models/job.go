package models

import (
	"encoding/json"
	"strings"
	"time"
)

// JobSummary is one entry of the user's job history.
type JobSummary struct {
	TaskID      string    `json:"id"`
	FileName    string    `json:"filename"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"` // zero while the job runs
}

// jobTimeLayouts are tried in order; the gateway stores SQL timestamps.
var jobTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// UnmarshalJSON tolerates null and unparsable timestamps, leaving them zero.
func (j *JobSummary) UnmarshalJSON(data []byte) error {
	var raw struct {
		TaskID      string  `json:"id"`
		FileName    string  `json:"filename"`
		Status      string  `json:"status"`
		CreatedAt   *string `json:"created_at"`
		CompletedAt *string `json:"completed_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*j = JobSummary{
		TaskID:      raw.TaskID,
		FileName:    raw.FileName,
		Status:      strings.ToLower(strings.TrimSpace(raw.Status)),
		CreatedAt:   parseJobTime(raw.CreatedAt),
		CompletedAt: parseJobTime(raw.CompletedAt),
	}
	return nil
}

func parseJobTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	v := strings.TrimSpace(*s)
	for _, layout := range jobTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
