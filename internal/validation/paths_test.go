package validation

import (
	"path/filepath"
	"testing"
)

func TestValidateFilename(t *testing.T) {
	testCases := []struct {
		name     string
		filename string
		valid    bool
	}{
		{"simple", "results.zip", true},
		{"with_dots", "model.v1.2.inp", true},
		{"double_dot_inside", "data..v2.csv", true},
		{"spaces", "OCR Results.zip", true},
		{"unicode", "résultats.csv", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"unix_separator", "out/results.zip", false},
		{"windows_separator", `out\results.zip`, false},
		{"traversal", "../../etc/passwd", false},
		{"null_byte", "file\x00.txt", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFilename(tc.filename)
			if tc.valid && err != nil {
				t.Errorf("ValidateFilename(%q) unexpected error: %v", tc.filename, err)
			}
			if !tc.valid && err == nil {
				t.Errorf("ValidateFilename(%q) expected error", tc.filename)
			}
		})
	}
}

func TestValidatePathInDirectory(t *testing.T) {
	base := t.TempDir()

	testCases := []struct {
		name  string
		path  string
		base  string
		valid bool
	}{
		{"relative_inside", "results.zip", base, true},
		{"nested_inside", filepath.Join("abc", "results.zip"), base, true},
		{"absolute_inside", filepath.Join(base, "abc", "model.inp"), base, true},
		{"base_itself", base, base, true},
		{"relative_escape", filepath.Join("..", "secret"), base, false},
		{"nested_escape", filepath.Join("abc", "..", "..", "secret"), base, false},
		{"absolute_outside", filepath.Join(filepath.Dir(base), "other"), base, false},
		{"sibling_prefix", base + "-evil", base, false},
		{"empty_path", "", base, false},
		{"empty_base", "results.zip", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathInDirectory(tc.path, tc.base)
			if tc.valid && err != nil {
				t.Errorf("ValidatePathInDirectory(%q, %q) unexpected error: %v", tc.path, tc.base, err)
			}
			if !tc.valid && err == nil {
				t.Errorf("ValidatePathInDirectory(%q, %q) expected error", tc.path, tc.base)
			}
		})
	}
}
