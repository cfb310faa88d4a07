// Package models defines the data structures shared by the gateway client,
// the poller, the orchestrator and the result projector.
package models

import (
	"fmt"
	"strings"
)

// ExtractionMethod selects the backend that processes a submitted document.
// It is fixed at submission time and never changes for the life of a task.
type ExtractionMethod string

const (
	MethodLocal                   ExtractionMethod = "local"
	MethodUnstract                ExtractionMethod = "unstract"
	MethodLLMWhisperer            ExtractionMethod = "llmwhisperer"
	MethodDirectLLM               ExtractionMethod = "direct_llm"
	MethodTextractQuery           ExtractionMethod = "textract_query"
	MethodSearchablePDFTextract   ExtractionMethod = "searchable_pdf_textract"
	MethodSearchablePDFOCRmyPDF   ExtractionMethod = "searchable_pdf_ocrmypdf"
	MethodSearchablePDFConvertAPI ExtractionMethod = "searchable_pdf_convertapi"
	MethodGPT4oVision             ExtractionMethod = "gpt4o_vision"
	MethodGPT4oHybrid             ExtractionMethod = "gpt4o_hybrid"
	MethodGLMTableExtraction      ExtractionMethod = "glm_table_extraction"
	MethodGLMAbaqusGenerator      ExtractionMethod = "glm_abaqus_generator"
	MethodGLMCustomQuery          ExtractionMethod = "glm_custom_query"
	MethodAbaqusFEM               ExtractionMethod = "abaqus_fem"
)

var allMethods = []ExtractionMethod{
	MethodLocal,
	MethodUnstract,
	MethodLLMWhisperer,
	MethodDirectLLM,
	MethodTextractQuery,
	MethodSearchablePDFTextract,
	MethodSearchablePDFOCRmyPDF,
	MethodSearchablePDFConvertAPI,
	MethodGPT4oVision,
	MethodGPT4oHybrid,
	MethodGLMTableExtraction,
	MethodGLMAbaqusGenerator,
	MethodGLMCustomQuery,
	MethodAbaqusFEM,
}

// AllMethods returns every supported method in display order.
func AllMethods() []ExtractionMethod {
	out := make([]ExtractionMethod, len(allMethods))
	copy(out, allMethods)
	return out
}

// IsValid reports whether m is one of the supported methods.
func (m ExtractionMethod) IsValid() bool {
	for _, known := range allMethods {
		if m == known {
			return true
		}
	}
	return false
}

func (m ExtractionMethod) String() string { return string(m) }

// ParseMethod converts user input (case-insensitive, '-' accepted for '_') into a method.
func ParseMethod(s string) (ExtractionMethod, error) {
	m := ExtractionMethod(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !m.IsValid() {
		return "", fmt.Errorf("unknown extraction method %q", s)
	}
	return m, nil
}
