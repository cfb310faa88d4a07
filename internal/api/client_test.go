package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/logging"
	"github.com/docsim/docsim-client/internal/models"
)

func quietLogger() *logging.Logger {
	l := logging.NewLogger("json")
	l.SetOutput(io.Discard)
	return l
}

// newTestClient starts a gateway stub and returns a client pointed at it and
// a counter of requests the stub received.
func newTestClient(t *testing.T, token string, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := config.NewConfig()
	cfg.APIBaseURL = srv.URL + "/api"
	cfg.Token = token

	c, err := NewClient(cfg, WithLogger(quietLogger()), WithDownloadRetry(2, time.Millisecond, 5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, &hits
}

func testDoc() *models.Document {
	return &models.Document{Name: "drawing.pdf", Reader: strings.NewReader("%PDF-1.7 body"), Size: 13}
}

// validParams returns a complete option set for every required field of m.
func validParams(m models.ExtractionMethod) models.SubmissionParams {
	spec, _ := LookupMethod(m)
	params := models.SubmissionParams{}
	for _, k := range spec.Required {
		if IsBooleanOption(k) {
			params[k] = "false"
		} else {
			params[k] = "value-" + k
		}
	}
	return params
}

// TestNewClientRejectsEmptyBaseURL verifies that NewClient fails with a clear error
// instead of creating a client that fails every request.
func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	cfg := config.NewConfig()
	cfg.APIBaseURL = ""

	_, err := NewClient(cfg)
	if err == nil {
		t.Fatal("NewClient() should return error for empty APIBaseURL")
	}
	if !strings.Contains(err.Error(), "gateway base URL is empty") {
		t.Errorf("NewClient() error = %q", err.Error())
	}
}

func TestEveryMethodHasDispatchEntry(t *testing.T) {
	for _, m := range models.AllMethods() {
		spec, ok := LookupMethod(m)
		if !ok {
			t.Errorf("method %s has no dispatch entry", m)
			continue
		}
		if !strings.HasPrefix(spec.Path, "/upload") {
			t.Errorf("method %s path = %q", m, spec.Path)
		}
	}
}

// Any missing or blank required option must fail locally and never reach the gateway.
func TestSubmitMissingRequiredFieldMakesNoCall(t *testing.T) {
	c, hits := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected gateway call: %s %s", r.Method, r.URL.Path)
	})

	for _, m := range models.AllMethods() {
		spec, _ := LookupMethod(m)

		t.Run(string(m)+"/no document", func(t *testing.T) {
			_, err := c.Submit(context.Background(), m, nil, validParams(m))
			if !IsValidationError(err) {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
		})

		for _, field := range spec.Required {
			for _, blank := range []string{"", "   "} {
				name := "missing"
				if blank != "" {
					name = "whitespace"
				}
				t.Run(string(m)+"/"+field+"/"+name, func(t *testing.T) {
					params := validParams(m)
					if blank == "" {
						delete(params, field)
					} else {
						params[field] = blank
					}

					handle, err := c.Submit(context.Background(), m, testDoc(), params)
					var ve *ValidationError
					if !errors.As(err, &ve) {
						t.Fatalf("Submit() error = %v, want ValidationError", err)
					}
					if ve.Field != field {
						t.Errorf("ValidationError.Field = %q, want %q", ve.Field, field)
					}
					if handle.TaskID != "" {
						t.Errorf("no task handle expected, got %+v", handle)
					}
				})
			}
		}
	}

	if n := atomic.LoadInt32(hits); n != 0 {
		t.Errorf("gateway received %d calls, want 0", n)
	}
}

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name      string
		method    models.ExtractionMethod
		params    models.SubmissionParams
		wantField string
		want      []FormField
	}{
		{
			name:   "local canonicalises booleans",
			method: models.MethodLocal,
			params: models.SubmissionParams{"language": "eng", "deskew": "1", "clean": "F", "force_ocr": "false", "optimize": ""},
			want: []FormField{
				{"clean", "false"}, {"deskew", "true"}, {"force_ocr", "false"}, {"language", "eng"},
			},
		},
		{
			name:      "local rejects non-boolean",
			method:    models.MethodLocal,
			params:    models.SubmissionParams{"language": "eng", "deskew": "maybe", "clean": "false", "force_ocr": "false"},
			wantField: "deskew",
		},
		{
			name:      "unknown option",
			method:    models.MethodLLMWhisperer,
			params:    models.SubmissionParams{"language": "eng"},
			wantField: "language",
		},
		{
			name:      "direct_llm empty query",
			method:    models.MethodDirectLLM,
			params:    models.SubmissionParams{"custom_prompt": ""},
			wantField: "custom_prompt",
		},
		{
			name:   "glm abaqus renames serial number",
			method: models.MethodGLMAbaqusGenerator,
			params: models.SubmissionParams{"serial_number": " SN-42 "},
			want:   []FormField{{"serialNumber", "SN-42"}},
		},
		{
			name:   "abaqus fem keeps serial_number",
			method: models.MethodAbaqusFEM,
			params: models.SubmissionParams{"serial_number": "SN-42"},
			want:   []FormField{{"serial_number", "SN-42"}},
		},
		{
			name:      "unknown method",
			method:    models.ExtractionMethod("tesseract"),
			params:    nil,
			wantField: "method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSubmission(tt.method, testDoc(), tt.params)
			if tt.wantField != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want ValidationError", err)
				}
				if ve.Field != tt.wantField {
					t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("field[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidateSubmissionRequiresDocument(t *testing.T) {
	params := models.SubmissionParams{"language": "eng", "deskew": "true", "clean": "false", "force_ocr": "false"}

	if _, err := ValidateOptions(models.MethodLocal, params); err != nil {
		t.Fatalf("ValidateOptions() error = %v", err)
	}
	for _, doc := range []*models.Document{nil, {Name: "", Reader: strings.NewReader("x")}, {Name: "a.pdf"}} {
		_, err := ValidateSubmission(models.MethodLocal, doc, params)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "file" {
			t.Errorf("ValidateSubmission(%+v) error = %v, want file ValidationError", doc, err)
		}
	}
}

func TestSubmitMissingTokenIsAuthError(t *testing.T) {
	c, hits := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.Submit(context.Background(), models.MethodLLMWhisperer, testDoc(), nil)
	if !IsAuthError(err) {
		t.Fatalf("Submit() error = %v, want AuthError", err)
	}
	if _, err := c.PollStatus(context.Background(), "t-1"); !IsAuthError(err) {
		t.Fatalf("PollStatus() error = %v, want AuthError", err)
	}
	if n := atomic.LoadInt32(hits); n != 0 {
		t.Errorf("gateway received %d calls, want 0", n)
	}
}

func TestSubmitSendsMultipart(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/upload" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		for k, want := range map[string]string{"language": "eng", "deskew": "true", "clean": "false", "force_ocr": "false"} {
			if got := r.FormValue(k); got != want {
				t.Errorf("form %s = %q, want %q", k, got, want)
			}
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		body, _ := io.ReadAll(f)
		if hdr.Filename != "drawing.pdf" || string(body) != "%PDF-1.7 body" {
			t.Errorf("file part = %q %q", hdr.Filename, body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"task_id":"t-123"}`)
	})

	params := models.SubmissionParams{"language": "eng", "deskew": "true", "clean": "false", "force_ocr": "false"}
	handle, err := c.Submit(context.Background(), models.MethodLocal, testDoc(), params)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle.TaskID != "t-123" || handle.Method != models.MethodLocal || handle.SubmittedAt.IsZero() {
		t.Errorf("handle = %+v", handle)
	}
}

func TestSubmitErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantAuth bool
		wantBody string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"ocr engine crashed"}`, false, "ocr engine crashed"},
		{"bad request", http.StatusBadRequest, "no file", false, "no file"},
		{"unauthorized", http.StatusUnauthorized, `{"error":"token expired"}`, true, ""},
		{"missing task id", http.StatusOK, `{}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, hits := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Submit(context.Background(), models.MethodLLMWhisperer, testDoc(), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantAuth {
				if !IsAuthError(err) {
					t.Errorf("error = %v, want AuthError", err)
				}
			} else {
				var te *TransportError
				if !errors.As(err, &te) {
					t.Fatalf("error = %v, want TransportError", err)
				}
				if te.StatusCode != tt.status {
					t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.status)
				}
				if tt.wantBody != "" && te.Body != tt.wantBody {
					t.Errorf("Body = %q, want %q", te.Body, tt.wantBody)
				}
			}
			if n := atomic.LoadInt32(hits); n != 1 {
				t.Errorf("gateway received %d calls, want exactly 1", n)
			}
		})
	}
}

func TestSubmitConnectionRefused(t *testing.T) {
	cfg := config.NewConfig()
	cfg.APIBaseURL = "http://127.0.0.1:1/api"
	cfg.Token = "tok"
	c, err := NewClient(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Submit(context.Background(), models.MethodLLMWhisperer, testDoc(), nil)
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != 0 {
		t.Fatalf("error = %v, want TransportError without status", err)
	}
}

func TestListJobs(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"jobs":[
			{"id":"old","filename":"a.pdf","status":"completed","created_at":"2024-03-01 09:00:00","completed_at":"2024-03-01 09:02:10"},
			{"id":"new","filename":"b.pdf","status":"Processing","created_at":"2024-03-02 10:00:00","completed_at":null}
		]}`)
	})

	jobs, err := c.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %+v, want 2", jobs)
	}
	if jobs[0].TaskID != "new" || jobs[1].TaskID != "old" {
		t.Errorf("order = %s, %s; want newest first", jobs[0].TaskID, jobs[1].TaskID)
	}
	if jobs[0].Status != "processing" || !jobs[0].CompletedAt.IsZero() {
		t.Errorf("running job = %+v", jobs[0])
	}
	want := time.Date(2024, 3, 1, 9, 2, 10, 0, time.UTC)
	if !jobs[1].CompletedAt.Equal(want) || jobs[1].FileName != "a.pdf" {
		t.Errorf("completed job = %+v", jobs[1])
	}
}

func TestListJobsUnauthorized(t *testing.T) {
	c, _ := newTestClient(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := c.ListJobs(context.Background()); !IsAuthError(err) {
		t.Fatalf("ListJobs() error = %v, want AuthError", err)
	}
}

func TestPollStatus(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status/t-1":
			_, _ = io.WriteString(w, `{"status":"Completed","tables":[{"rows":10,"columns":3}]}`)
		case "/api/status/t-2":
			_, _ = io.WriteString(w, `{"status":"error","error":"unsupported file"}`)
		case "/api/status/t-3":
			_, _ = io.WriteString(w, `{"state":"weird"}`)
		default:
			http.NotFound(w, r)
		}
	})

	p, err := c.PollStatus(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if p.Status != models.RemoteCompleted || !strings.Contains(string(p.Raw), `"rows":10`) {
		t.Errorf("payload = %+v", p)
	}

	p, err = c.PollStatus(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if p.Status != models.RemoteError || p.Message != "unsupported file" {
		t.Errorf("payload = %+v", p)
	}

	if _, err := c.PollStatus(context.Background(), "t-3"); StatusCode(err) != http.StatusOK {
		t.Errorf("malformed payload error = %v, want TransportError carrying 200", err)
	}
	if _, err := c.PollStatus(context.Background(), "missing"); StatusCode(err) != http.StatusNotFound {
		t.Errorf("error = %v, want 404 TransportError", err)
	}
}

func TestSimulationCalls(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/run_simulation/t-1":
			_, _ = io.WriteString(w, `{"simulation_task_id":"sim-9"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/simulation_status/sim-9":
			_, _ = io.WriteString(w, `{"status":"completed","output":"step 1 done","output_files":{"dat":true,"odb":"job.odb","msg":false}}`)
		default:
			http.NotFound(w, r)
		}
	})

	simID, err := c.SubmitSimulation(context.Background(), "t-1")
	if err != nil || simID != "sim-9" {
		t.Fatalf("SubmitSimulation() = %q, %v", simID, err)
	}

	p, err := c.PollSimulation(context.Background(), simID)
	if err != nil {
		t.Fatalf("PollSimulation() error = %v", err)
	}
	if p.Status != "completed" || p.Output != "step 1 done" {
		t.Errorf("payload = %+v", p)
	}
	if !p.OutputFiles.DAT || !p.OutputFiles.ODB || p.OutputFiles.MSG || p.OutputFiles.STA {
		t.Errorf("output files = %+v", p.OutputFiles)
	}
}

func TestArtifactPath(t *testing.T) {
	tests := []struct {
		kind models.ArtifactKind
		id   string
		want string
	}{
		{models.ArtifactDocument, "t-1", "/download/t-1"},
		{models.ArtifactArchive, "t-1", "/download_all/t-1"},
		{models.ArtifactINP, "t-1", "/download_inp/t-1"},
		{models.ArtifactCSV, "t-1", "/download_csv/t-1"},
		{models.ArtifactDAT, "sim-9", "/download_result/sim-9/dat"},
		{models.ArtifactSTA, "sim-9", "/download_result/sim-9/sta"},
	}
	for _, tt := range tests {
		got, err := ArtifactPath(models.ArtifactRef{Kind: tt.kind, TaskID: tt.id})
		if err != nil || got != tt.want {
			t.Errorf("ArtifactPath(%s) = %q, %v; want %q", tt.kind, got, err, tt.want)
		}
	}

	if _, err := ArtifactPath(models.ArtifactRef{Kind: "pdf", TaskID: "t-1"}); !IsValidationError(err) {
		t.Errorf("unknown kind error = %v", err)
	}
	if _, err := ArtifactPath(models.ArtifactRef{Kind: models.ArtifactCSV}); !IsValidationError(err) {
		t.Errorf("missing id error = %v", err)
	}
}

func TestFetchArtifactRetriesTransientFailures(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/download_all/t-1" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Error("download request lacks bearer token")
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="OCR_Results.zip"`)
		_, _ = io.WriteString(w, "PK-zip-bytes")
	})

	a, err := c.FetchArtifact(context.Background(), models.ArtifactRef{Kind: models.ArtifactArchive, TaskID: "t-1"})
	if err != nil {
		t.Fatalf("FetchArtifact() error = %v", err)
	}
	defer a.Body.Close()

	body, _ := io.ReadAll(a.Body)
	if string(body) != "PK-zip-bytes" {
		t.Errorf("body = %q", body)
	}
	if a.FileName != "OCR_Results.zip" {
		t.Errorf("FileName = %q", a.FileName)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestFetchArtifactUnauthorizedIsNotRetried(t *testing.T) {
	c, hits := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.FetchArtifact(context.Background(), models.ArtifactRef{Kind: models.ArtifactINP, TaskID: "t-1"})
	if !IsAuthError(err) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("gateway received %d calls, want 1", n)
	}
}

func TestArtifactFileName(t *testing.T) {
	tests := []struct {
		ref         models.ArtifactRef
		disposition string
		want        string
	}{
		{models.ArtifactRef{Kind: models.ArtifactINP, TaskID: "t"}, `attachment; filename="../../beam.inp"`, "beam.inp"},
		{models.ArtifactRef{Kind: models.ArtifactDocument, TaskID: "t", FileName: "searchable_document.pdf"}, "", "searchable_document.pdf"},
		{models.ArtifactRef{Kind: models.ArtifactArchive, TaskID: "t"}, "", "t.zip"},
		{models.ArtifactRef{Kind: models.ArtifactODB, TaskID: "sim"}, "inline", "sim.odb"},
		{models.ArtifactRef{Kind: models.ArtifactCSV, TaskID: "t"}, `attachment; filename=".."`, "t.csv"},
		{models.ArtifactRef{Kind: models.ArtifactDAT, TaskID: "sim"}, `attachment; filename="run\\job.dat"`, "sim.dat"},
	}
	for _, tt := range tests {
		if got := artifactFileName(tt.ref, tt.disposition); got != tt.want {
			t.Errorf("artifactFileName(%+v, %q) = %q, want %q", tt.ref, tt.disposition, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter("7"); got != 7*time.Second {
		t.Errorf("retryAfter(7) = %v", got)
	}
	if got := retryAfter(""); got != defaultCooldown {
		t.Errorf("retryAfter(\"\") = %v", got)
	}
	if got := retryAfter("soon"); got != defaultCooldown {
		t.Errorf("retryAfter(soon) = %v", got)
	}
}
