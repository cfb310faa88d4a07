package api

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docsim/docsim-client/internal/models"
)

// MethodSpec describes the wire contract of one extraction method.
type MethodSpec struct {
	Path     string
	Required []string
	Optional []string
	// FieldNames renames options on the wire (e.g. serial_number -> serialNumber).
	FieldNames map[string]string
}

// booleanOptions must parse with strconv.ParseBool and are sent as "true"/"false".
var booleanOptions = map[string]bool{
	"deskew":         true,
	"clean":          true,
	"force_ocr":      true,
	"optimize":       true,
	"extract_tables": true,
}

var dispatch = map[models.ExtractionMethod]MethodSpec{
	models.MethodLocal: {
		Path:     "/upload",
		Required: []string{"language", "deskew", "clean", "force_ocr"},
		Optional: []string{"optimize", "extract_tables"},
	},
	models.MethodUnstract: {
		Path:     "/upload_unstract",
		Optional: []string{"custom_prompts", "model_name"},
	},
	models.MethodLLMWhisperer: {
		Path: "/upload_llmwhisperer",
	},
	models.MethodDirectLLM: {
		Path:     "/upload_direct_llm",
		Required: []string{"custom_prompt"},
		Optional: []string{"model_name"},
	},
	models.MethodTextractQuery: {
		Path:     "/upload_textract_query",
		Required: []string{"queries"},
	},
	models.MethodSearchablePDFTextract: {
		Path: "/upload_searchable_pdf_textract",
	},
	models.MethodSearchablePDFOCRmyPDF: {
		Path:     "/upload_searchable_pdf",
		Optional: []string{"language"},
	},
	models.MethodSearchablePDFConvertAPI: {
		Path: "/upload_searchable_pdf_convertapi",
	},
	models.MethodGPT4oVision: {
		Path:     "/upload_gpt4o_vision",
		Optional: []string{"custom_prompts"},
	},
	models.MethodGPT4oHybrid: {
		Path:     "/upload_gpt4o_hybrid",
		Optional: []string{"custom_prompts"},
	},
	models.MethodGLMTableExtraction: {
		Path:     "/upload_glm_table_extraction",
		Optional: []string{"custom_prompt"},
	},
	models.MethodGLMAbaqusGenerator: {
		Path:       "/upload_glm_abaqus_generator",
		Required:   []string{"serial_number"},
		FieldNames: map[string]string{"serial_number": "serialNumber"},
	},
	models.MethodGLMCustomQuery: {
		Path:     "/upload_glm_custom_query",
		Required: []string{"custom_query"},
	},
	models.MethodAbaqusFEM: {
		Path:     "/upload_abaqus_fem",
		Required: []string{"serial_number"},
	},
}

// LookupMethod returns the wire contract for m.
func LookupMethod(m models.ExtractionMethod) (MethodSpec, bool) {
	spec, ok := dispatch[m]
	return spec, ok
}

// IsBooleanOption reports whether the option only accepts true/false values.
func IsBooleanOption(name string) bool {
	return booleanOptions[name]
}

// FormField is one multipart field sent alongside the document.
type FormField struct {
	Name  string
	Value string
}

// ValidateSubmission checks method, document and params against the dispatch
// table and returns the form fields to send, sorted by wire name.
func ValidateSubmission(method models.ExtractionMethod, doc *models.Document, params models.SubmissionParams) ([]FormField, error) {
	if doc == nil {
		return nil, &ValidationError{Method: method, Field: "file", Reason: "is required"}
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, &ValidationError{Method: method, Field: "file", Reason: "name is required"}
	}
	if doc.Reader == nil {
		return nil, &ValidationError{Method: method, Field: "file", Reason: "content is required"}
	}
	return ValidateOptions(method, params)
}

// ValidateOptions checks method and params only, before a document is at hand.
func ValidateOptions(method models.ExtractionMethod, params models.SubmissionParams) ([]FormField, error) {
	spec, ok := dispatch[method]
	if !ok {
		return nil, &ValidationError{Field: "method", Reason: fmt.Sprintf("%q is not a supported extraction method", method)}
	}

	allowed := make(map[string]bool, len(spec.Required)+len(spec.Optional))
	for _, k := range spec.Required {
		allowed[k] = true
		if params.Get(k) == "" {
			return nil, &ValidationError{Method: method, Field: k, Reason: "is required"}
		}
	}
	for _, k := range spec.Optional {
		allowed[k] = true
	}

	fields := make([]FormField, 0, len(params))
	for _, k := range params.Keys() {
		if !allowed[k] {
			return nil, &ValidationError{Method: method, Field: k, Reason: "is not accepted by this method"}
		}
		value := params.Get(k)
		if value == "" {
			// Optional and empty: omitted, as the form would.
			continue
		}
		if booleanOptions[k] {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, &ValidationError{Method: method, Field: k, Reason: fmt.Sprintf("must be true or false, got %q", value)}
			}
			value = strconv.FormatBool(b)
		}
		name := k
		if renamed, ok := spec.FieldNames[k]; ok {
			name = renamed
		}
		fields = append(fields, FormField{Name: name, Value: value})
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}
