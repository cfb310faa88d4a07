package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/docsim/docsim-client/internal/models"
)

type projectFunc func(v *View, body *payloadBody)

// projections maps every method onto its projection family.
var projections = map[models.ExtractionMethod]projectFunc{
	models.MethodLocal:                   projectLocal,
	models.MethodUnstract:                projectStructured,
	models.MethodLLMWhisperer:            projectStructured,
	models.MethodDirectLLM:               projectStructured,
	models.MethodTextractQuery:           projectStructured,
	models.MethodSearchablePDFTextract:   projectDownloadOnly,
	models.MethodSearchablePDFOCRmyPDF:   projectDownloadOnly,
	models.MethodSearchablePDFConvertAPI: projectDownloadOnly,
	models.MethodGPT4oVision:             projectStructured,
	models.MethodGPT4oHybrid:             projectStructured,
	models.MethodGLMTableExtraction:      projectStructured,
	models.MethodGLMAbaqusGenerator:      projectSimulationInput,
	models.MethodGLMCustomQuery:          projectStructured,
	models.MethodAbaqusFEM:               projectSimulationInput,
}

// payloadBody is the union of method-specific fields found in status payloads.
// Fields of an unexpected type are left empty rather than failing the
// whole projection.
type payloadBody struct {
	OutputFile       string
	CSVFile          string
	Tables           []rawTable
	UnstractData     []fileResult
	Outputs          map[string]json.RawMessage
	ExtractedText    string
	ExtractedContent string
	SerialNumber     json.RawMessage
	Length           json.RawMessage
	Diameter         json.RawMessage
	ScaleLength      json.RawMessage
	ScaleDiameter    json.RawMessage
	// Problems lists unstract_data entries that could not be read.
	Problems []string
}

type rawTable struct {
	TableNum  any `json:"table_num"`
	CSVFile   any `json:"csv_file"`
	ExcelFile any `json:"excel_file"`
	Rows      any `json:"rows"`
	Columns   any `json:"columns"`
	Accuracy  any `json:"accuracy"`
}

type fileResult struct {
	File    string
	Status  string
	Error   string
	Outputs map[string]json.RawMessage
}

// Project builds the view for a terminal payload of taskID. A nil payload
// projects as an empty body. The only error is an unknown method.
func Project(method models.ExtractionMethod, taskID string, payload *models.StatusPayload) (*View, error) {
	project, ok := projections[method]
	if !ok {
		return nil, &UnknownMethodError{Method: method}
	}

	v := &View{Method: method, TaskID: taskID}
	var body payloadBody
	if payload != nil {
		v.Status = displayStatus(payload.Status)
		v.Message = payload.Message
		body = decodeBody(payload.Raw)
	}

	project(v, &body)
	v.FileErrors = append(v.FileErrors, body.Problems...)
	return v, nil
}

func decodeBody(raw json.RawMessage) payloadBody {
	var b payloadBody
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return b
	}

	b.OutputFile = rawString(fields["output_file"])
	b.CSVFile = rawString(fields["csv_file"])
	b.ExtractedText = rawString(fields["extracted_text"])
	b.ExtractedContent = rawString(fields["extracted_content"])
	b.SerialNumber = fields["serial_number"]
	b.Length = fields["length"]
	b.Diameter = fields["diameter"]
	b.ScaleLength = fields["scale_factor_length"]
	b.ScaleDiameter = fields["scale_factor_diameter"]
	b.Outputs = rawObject(fields["outputs"])

	for _, item := range rawArray(fields["tables"]) {
		var t rawTable
		if json.Unmarshal(item, &t) == nil {
			b.Tables = append(b.Tables, t)
		}
	}

	for i, item := range rawArray(fields["unstract_data"]) {
		fr, problem := decodeFileResult(item)
		if problem != "" {
			name := fr.File
			if name == "" {
				name = fmt.Sprintf("entry %d", i+1)
			}
			b.Problems = append(b.Problems, name+": "+problem)
		}
		b.UnstractData = append(b.UnstractData, fr)
	}
	return b
}

// decodeFileResult reads one unstract_data entry. A result that is a string
// instead of an object carries the backend's failure text and is returned as
// the problem.
func decodeFileResult(raw json.RawMessage) (fileResult, string) {
	var entry map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entry); err != nil {
		return fileResult{}, "unreadable result entry"
	}
	fr := fileResult{
		File:   rawString(entry["file"]),
		Status: rawString(entry["status"]),
		Error:  rawText(entry["error"]),
	}

	result := entry["result"]
	if len(result) == 0 || string(result) == "null" {
		return fr, ""
	}
	if obj := rawObject(result); obj != nil {
		fr.Outputs = rawObject(obj["output"])
		return fr, ""
	}
	if msg := rawString(result); msg != "" {
		return fr, msg
	}
	return fr, "unexpected result format"
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// rawText renders any JSON value as text: strings as-is, null as empty and
// everything else compact.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if s := rawString(raw); s != "" || strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func rawObject(raw json.RawMessage) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

func rawArray(raw json.RawMessage) []json.RawMessage {
	var a []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &a) != nil {
		return nil
	}
	return a
}

func displayStatus(remote string) string {
	switch remote {
	case models.RemoteCompleted:
		return string(models.StatusCompleted)
	case models.RemoteError:
		return string(models.StatusError)
	default:
		return remote
	}
}

func projectLocal(v *View, b *payloadBody) {
	for i, t := range b.Tables {
		name, _ := t.CSVFile.(string)
		if name == "" {
			name, _ = t.ExcelFile.(string)
		}
		if name != "" {
			name = path.Base(name)
		} else {
			n := toInt(t.TableNum)
			if n == 0 {
				n = i + 1
			}
			name = fmt.Sprintf("table_%d", n)
		}
		v.Tables = append(v.Tables, Table{
			Name:     name,
			Rows:     toInt(t.Rows),
			Columns:  toInt(t.Columns),
			Accuracy: toPercent(t.Accuracy),
		})
	}
	addDocument(v)
	addArchive(v)
}

func projectDownloadOnly(v *View, b *payloadBody) {
	addDocument(v)
	addArchive(v)
}

// projectStructured reads named outputs per input file, then a flat outputs
// map, then plain extracted text.
func projectStructured(v *View, b *payloadBody) {
	for _, fr := range b.UnstractData {
		if fr.Error != "" {
			v.FileErrors = append(v.FileErrors, strings.TrimSpace(fr.File+": "+fr.Error))
		}
		v.Outputs = append(v.Outputs, outputsFromMap(fr.File, fr.Outputs)...)
	}
	if len(v.Outputs) == 0 {
		v.Outputs = outputsFromMap("", b.Outputs)
	}
	if len(v.Outputs) == 0 {
		v.Outputs = textOutputs(b)
	}

	if b.OutputFile != "" {
		addDocument(v)
	}
	addArchive(v)
}

func projectSimulationInput(v *View, b *payloadBody) {
	v.Outputs = textOutputs(b)
	for _, f := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"serial_number", b.SerialNumber},
		{"length", b.Length},
		{"diameter", b.Diameter},
		{"scale_factor_length", b.ScaleLength},
		{"scale_factor_diameter", b.ScaleDiameter},
	} {
		if s := scalarString(f.raw); s != "" {
			v.Outputs = append(v.Outputs, Output{Name: f.name, Kind: KindText, Content: s})
		}
	}

	inpName := ""
	if b.OutputFile != "" {
		inpName = path.Base(b.OutputFile)
	}
	v.Artifacts = append(v.Artifacts, models.ArtifactRef{Kind: models.ArtifactINP, TaskID: v.TaskID, FileName: inpName})

	csvName := ""
	if b.CSVFile != "" {
		csvName = path.Base(b.CSVFile)
	}
	v.Artifacts = append(v.Artifacts, models.ArtifactRef{Kind: models.ArtifactCSV, TaskID: v.TaskID, FileName: csvName})

	v.SimulationReady = v.Status == string(models.StatusCompleted)
}

func textOutputs(b *payloadBody) []Output {
	var out []Output
	for _, f := range []struct{ name, value string }{
		{"extracted_text", b.ExtractedText},
		{"extracted_content", b.ExtractedContent},
	} {
		if strings.TrimSpace(f.value) != "" {
			out = append(out, Output{Name: f.name, Kind: Classify(f.value), Content: f.value})
		}
	}
	return out
}

// outputsFromMap converts a name -> value map in name order. Only string
// values are classified; anything else is rendered as indented JSON text.
func outputsFromMap(source string, m map[string]json.RawMessage) []Output {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Output, 0, len(names))
	for _, name := range names {
		out = append(out, outputFromRaw(source, name, m[name]))
	}
	return out
}

func outputFromRaw(source, name string, raw json.RawMessage) Output {
	o := Output{Source: source, Name: name, Kind: KindText}
	var s string
	switch {
	case len(raw) == 0 || string(raw) == "null":
	case json.Unmarshal(raw, &s) == nil:
		o.Content = s
		o.Kind = Classify(s)
	default:
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			o.Content = string(raw)
		} else {
			o.Content = buf.String()
		}
	}
	return o
}

func addDocument(v *View) {
	v.Artifacts = append(v.Artifacts, models.ArtifactRef{
		Kind:     models.ArtifactDocument,
		TaskID:   v.TaskID,
		FileName: DocumentFileName(v.Method),
	})
}

func addArchive(v *View) {
	v.Artifacts = append(v.Artifacts, models.ArtifactRef{
		Kind:     models.ArtifactArchive,
		TaskID:   v.TaskID,
		FileName: ArchiveFileName,
	})
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	default:
		return 0
	}
}

// toPercent accepts 0.97, 97 or "97.0%" and returns 97.
func toPercent(v any) float64 {
	switch t := v.(type) {
	case float64:
		if t > 0 && t <= 1 {
			return t * 100
		}
		return t
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
