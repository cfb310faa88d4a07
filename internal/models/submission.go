package models

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// SubmissionParams holds method-specific options keyed by option name.
// Which keys are accepted or required depends entirely on the method.
type SubmissionParams map[string]string

// Get returns the trimmed value for key.
func (p SubmissionParams) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// Keys returns the option names in sorted order.
func (p SubmissionParams) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a copy of p overlaid with other.
func (p SubmissionParams) Merge(other SubmissionParams) SubmissionParams {
	out := make(SubmissionParams, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ParamsFromMap converts loosely typed values (YAML, JSON) into string options.
func ParamsFromMap(m map[string]any) SubmissionParams {
	out := make(SubmissionParams, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Document is the file sent along with a submission.
type Document struct {
	Name   string
	Reader io.Reader
	Size   int64 // -1 when unknown
}

// ArtifactKind selects which downloadable file to fetch for a task.
type ArtifactKind string

const (
	ArtifactDocument ArtifactKind = "document"
	ArtifactArchive  ArtifactKind = "archive"
	ArtifactINP      ArtifactKind = "inp"
	ArtifactCSV      ArtifactKind = "csv"
	ArtifactDAT      ArtifactKind = "dat"
	ArtifactMSG      ArtifactKind = "msg"
	ArtifactODB      ArtifactKind = "odb"
	ArtifactSTA      ArtifactKind = "sta"
)

// IsSimulationOutput reports whether the kind is keyed by a simulation task id.
func (k ArtifactKind) IsSimulationOutput() bool {
	switch k {
	case ArtifactDAT, ArtifactMSG, ArtifactODB, ArtifactSTA:
		return true
	}
	return false
}

// ParseArtifactKind validates a user supplied kind.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	k := ArtifactKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case ArtifactDocument, ArtifactArchive, ArtifactINP, ArtifactCSV,
		ArtifactDAT, ArtifactMSG, ArtifactODB, ArtifactSTA:
		return k, nil
	}
	return "", fmt.Errorf("unknown artifact kind %q", s)
}

// ArtifactRef points at one downloadable file.
type ArtifactRef struct {
	Kind     ArtifactKind `json:"kind"`
	TaskID   string       `json:"task_id"` // simulation task id for simulation outputs
	FileName string       `json:"file_name"`
}
