// Package results turns terminal status payloads into render-ready views.
// Everything here is a pure function of its inputs.
package results

import (
	"fmt"

	"github.com/docsim/docsim-client/internal/models"
)

// OutputKind tags an output blob for rendering. It is advisory only.
type OutputKind string

const (
	KindText OutputKind = "text"
	KindCSV  OutputKind = "csv"
)

// Output is one named result blob.
type Output struct {
	Source  string     `json:"source,omitempty"` // input file the output was extracted from
	Name    string     `json:"name"`
	Kind    OutputKind `json:"kind"`
	Content string     `json:"content"`
}

// FileName is the suggested download name: <source>_<name>.csv|.txt.
func (o Output) FileName() string {
	return OutputFileName(o.Source, o.Name, o.Kind)
}

// Table summarises one table found by local OCR.
type Table struct {
	Name     string  `json:"name"`
	Rows     int     `json:"rows"`
	Columns  int     `json:"columns"`
	Accuracy float64 `json:"accuracy,omitempty"` // percent; 0 when not reported
}

// View is the normalised projection of a terminal task payload.
type View struct {
	Method          models.ExtractionMethod `json:"method,omitempty"`
	TaskID          string                  `json:"task_id"`
	Status          string                  `json:"status"`
	Message         string                  `json:"message,omitempty"`
	Outputs         []Output                `json:"outputs,omitempty"`
	Tables          []Table                 `json:"tables,omitempty"`
	Artifacts       []models.ArtifactRef    `json:"artifacts,omitempty"`
	FileErrors      []string                `json:"file_errors,omitempty"`
	SimulationReady bool                    `json:"simulation_ready"`
}

// CSVOutputs returns the outputs classified as CSV.
func (v *View) CSVOutputs() []Output {
	var out []Output
	for _, o := range v.Outputs {
		if o.Kind == KindCSV {
			out = append(out, o)
		}
	}
	return out
}

// Artifact returns the first artifact of kind k.
func (v *View) Artifact(k models.ArtifactKind) (models.ArtifactRef, bool) {
	for _, a := range v.Artifacts {
		if a.Kind == k {
			return a, true
		}
	}
	return models.ArtifactRef{}, false
}

// Clone returns a deep copy.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}
	c := *v
	c.Outputs = append([]Output(nil), v.Outputs...)
	c.Tables = append([]Table(nil), v.Tables...)
	c.Artifacts = append([]models.ArtifactRef(nil), v.Artifacts...)
	c.FileErrors = append([]string(nil), v.FileErrors...)
	return &c
}

// UnknownMethodError is returned when projecting a method outside the enumeration.
type UnknownMethodError struct {
	Method models.ExtractionMethod
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("no result projection for method %q", e.Method)
}
