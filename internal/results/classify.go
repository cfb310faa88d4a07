package results

import (
	"path"
	"strings"

	"github.com/docsim/docsim-client/internal/models"
)

// Classify reports whether value looks like delimited tabular data: it has a
// comma and at least two lines.
func Classify(value string) OutputKind {
	if strings.Contains(value, ",") && len(strings.Split(value, "\n")) > 1 {
		return KindCSV
	}
	return KindText
}

// Default artifact names offered for download.
const (
	ArchiveFileName       = "OCR_Results.zip"
	SearchablePDFFileName = "searchable_document.pdf"
	ExtractedTextFileName = "extracted_text.txt"
	LLMTextFileName       = "llm_extraction.txt"
)

// DocumentFileName is the suggested name for a method's primary document.
func DocumentFileName(m models.ExtractionMethod) string {
	switch m {
	case models.MethodLLMWhisperer:
		return ExtractedTextFileName
	case models.MethodDirectLLM:
		return LLMTextFileName
	default:
		return SearchablePDFFileName
	}
}

// OutputFileName builds "<source stem>_<name>.csv" or ".txt".
func OutputFileName(source, name string, kind OutputKind) string {
	ext := ".txt"
	if kind == KindCSV {
		ext = ".csv"
	}
	stem := strings.TrimSuffix(path.Base(source), ".pdf")
	if source == "" || stem == "." || stem == "/" {
		return name + ext
	}
	return stem + "_" + name + ext
}
