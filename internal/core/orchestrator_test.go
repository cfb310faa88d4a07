package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docsim/docsim-client/internal/api"
	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/events"
	"github.com/docsim/docsim-client/internal/logging"
	"github.com/docsim/docsim-client/internal/models"
)

const testInterval = 5 * time.Millisecond

// fakeGateway records calls and delegates to optional per-test functions.
type fakeGateway struct {
	mu             sync.Mutex
	submitCalls    int
	statusCalls    map[string]int
	simSubmitCalls int
	simStatusCalls int

	submitFn    func(ctx context.Context, n int, method models.ExtractionMethod) (models.TaskHandle, error)
	statusFn    func(ctx context.Context, n int, taskID string) (*models.StatusPayload, error)
	simSubmitFn func(ctx context.Context, taskID string) (string, error)
	simStatusFn func(ctx context.Context, n int, simTaskID string) (*models.SimStatusPayload, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statusCalls: make(map[string]int)}
}

func (g *fakeGateway) Submit(ctx context.Context, method models.ExtractionMethod, doc *models.Document, params models.SubmissionParams) (models.TaskHandle, error) {
	g.mu.Lock()
	g.submitCalls++
	n := g.submitCalls
	fn := g.submitFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, n, method)
	}
	return models.TaskHandle{TaskID: "task-1", Method: method, SubmittedAt: time.Now()}, nil
}

func (g *fakeGateway) PollStatus(ctx context.Context, taskID string) (*models.StatusPayload, error) {
	g.mu.Lock()
	g.statusCalls[taskID]++
	n := g.statusCalls[taskID]
	fn := g.statusFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, n, taskID)
	}
	return mustStatus(`{"status":"running"}`), nil
}

func (g *fakeGateway) SubmitSimulation(ctx context.Context, taskID string) (string, error) {
	g.mu.Lock()
	g.simSubmitCalls++
	fn := g.simSubmitFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, taskID)
	}
	return "sim-1", nil
}

func (g *fakeGateway) PollSimulation(ctx context.Context, simTaskID string) (*models.SimStatusPayload, error) {
	g.mu.Lock()
	g.simStatusCalls++
	n := g.simStatusCalls
	fn := g.simStatusFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, n, simTaskID)
	}
	return &models.SimStatusPayload{Status: "running"}, nil
}

func (g *fakeGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.submitCalls + g.simSubmitCalls + g.simStatusCalls
	for _, c := range g.statusCalls {
		n += c
	}
	return n
}

func (g *fakeGateway) statusCount(taskID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls[taskID]
}

func mustStatus(body string) *models.StatusPayload {
	p, err := models.ParseStatusPayload([]byte(body))
	if err != nil {
		panic(err)
	}
	return p
}

func quietLogger() *logging.Logger {
	l := logging.NewLogger("json")
	l.SetOutput(io.Discard)
	return l
}

func newTestOrchestrator(t *testing.T, gw Gateway) *Orchestrator {
	t.Helper()
	o := New(gw, Options{PollInterval: testInterval, Logger: quietLogger()})
	t.Cleanup(o.Close)
	return o
}

func testDoc() *models.Document {
	return &models.Document{Name: "scan.pdf", Reader: strings.NewReader("%PDF-1.7"), Size: 8}
}

func localParams() models.SubmissionParams {
	return models.SubmissionParams{"language": "eng", "deskew": "true", "clean": "false", "force_ocr": "false"}
}

func awaitState(t *testing.T, o *Orchestrator, done func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := o.Await(ctx, done)
	if err != nil {
		t.Fatalf("Await() error = %v (primary = %+v)", err, st.Primary)
	}
	return st
}

func primaryIs(status models.TaskStatus) func(State) bool {
	return func(s State) bool { return s.Primary != nil && s.Primary.Status == status }
}

// drain returns the task state events currently buffered on ch.
func drain(ch <-chan events.Event) []*events.TaskStateEvent {
	var out []*events.TaskStateEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			if ts, ok := ev.(*events.TaskStateEvent); ok {
				out = append(out, ts)
			}
		default:
			return out
		}
	}
}

func reasons(evs []*events.TaskStateEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Reason
	}
	return out
}

func TestSubmit_MissingRequiredFieldMakesNoCalls(t *testing.T) {
	for _, m := range models.AllMethods() {
		spec, _ := api.LookupMethod(m)
		t.Run(string(m), func(t *testing.T) {
			gw := newFakeGateway()
			o := newTestOrchestrator(t, gw)

			full := models.SubmissionParams{}
			for _, k := range spec.Required {
				full[k] = "x"
				if api.IsBooleanOption(k) {
					full[k] = "true"
				}
			}

			var cases []models.SubmissionParams
			for _, k := range spec.Required {
				missing := full.Merge(nil)
				delete(missing, k)
				blank := full.Merge(models.SubmissionParams{k: "  "})
				cases = append(cases, missing, blank)
			}

			for _, params := range cases {
				handle, err := o.Submit(context.Background(), m, testDoc(), params)
				if !api.IsValidationError(err) {
					t.Fatalf("Submit(%v) error = %v, want ValidationError", params, err)
				}
				if handle.TaskID != "" {
					t.Errorf("Submit(%v) returned handle %+v", params, handle)
				}
			}

			// Every method needs a document.
			if _, err := o.Submit(context.Background(), m, &models.Document{Name: "a.pdf"}, full); !api.IsValidationError(err) {
				t.Fatalf("Submit() without content error = %v, want ValidationError", err)
			}

			if n := gw.totalCalls(); n != 0 {
				t.Errorf("gateway calls = %d, want 0", n)
			}
			if st := o.Snapshot(); st.Primary != nil {
				t.Errorf("primary task created: %+v", st.Primary)
			}
		})
	}
}

func TestSubmit_MissingDocumentKeepsTrackedTask(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	awaitState(t, o, func(State) bool { return gw.statusCount("task-1") >= 1 })

	for _, doc := range []*models.Document{nil, {Name: " ", Reader: strings.NewReader("x")}} {
		if _, err := o.Submit(context.Background(), models.MethodLocal, doc, localParams()); !api.IsValidationError(err) {
			t.Fatalf("Submit(%+v) error = %v, want ValidationError", doc, err)
		}
	}

	st := o.Snapshot()
	if st.Primary == nil || st.Primary.TaskID != "task-1" {
		t.Fatalf("tracked = %+v, want task-1", st.Primary)
	}
	before := gw.statusCount("task-1")
	awaitState(t, o, func(State) bool { return gw.statusCount("task-1") > before })
	gw.mu.Lock()
	submits := gw.submitCalls
	gw.mu.Unlock()
	if submits != 1 {
		t.Errorf("submit calls = %d, want 1", submits)
	}
}

func TestSubmit_DirectLLMEmptyQuery(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(t, gw)

	handle, err := o.Submit(context.Background(), models.MethodDirectLLM, testDoc(), models.SubmissionParams{"custom_prompt": ""})

	var vErr *api.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Submit() error = %v, want *api.ValidationError", err)
	}
	if vErr.Field != "custom_prompt" {
		t.Errorf("ValidationError.Field = %q, want custom_prompt", vErr.Field)
	}
	if handle != (models.TaskHandle{}) {
		t.Errorf("handle = %+v, want zero", handle)
	}
	if gw.totalCalls() != 0 {
		t.Errorf("gateway was called")
	}
}

func TestSubmit_LocalCompletesWithTable(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(_ context.Context, n int, _ string) (*models.StatusPayload, error) {
		if n < 3 {
			return mustStatus(`{"status":"running"}`), nil
		}
		return mustStatus(`{"status":"completed","message":"done","tables":[{"rows":10,"columns":3}]}`), nil
	}
	o := newTestOrchestrator(t, gw)
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	handle, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle.TaskID != "task-1" || handle.Method != models.MethodLocal {
		t.Errorf("handle = %+v", handle)
	}

	st := awaitState(t, o, primaryIs(models.StatusCompleted))
	if st.Primary.Payload == nil {
		t.Fatal("completed task has no payload")
	}
	if st.View == nil || len(st.View.Tables) != 1 {
		t.Fatalf("view = %+v, want one table", st.View)
	}
	if tb := st.View.Tables[0]; tb.Rows != 10 || tb.Columns != 3 {
		t.Errorf("table = %dx%d, want 10x3", tb.Rows, tb.Columns)
	}

	evs := drain(ch)
	got := reasons(evs)
	want := []string{ReasonSubmitted, ReasonRunning, ReasonProgress, ReasonCompleted}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event reasons = %v, want %v", got, want)
	}
	last := evs[len(evs)-1]
	if last.Primary.Status != models.StatusCompleted || last.View == nil || len(last.View.Tables) != 1 {
		t.Errorf("last event = %+v", last)
	}
	if evs[0].Primary.Status != models.StatusPending || evs[1].Primary.Status != models.StatusRunning {
		t.Errorf("first statuses = %s, %s", evs[0].Primary.Status, evs[1].Primary.Status)
	}

	time.Sleep(10 * testInterval)
	if n := gw.statusCount("task-1"); n != 3 {
		t.Errorf("status calls = %d, want 3", n)
	}
}

func TestSubmit_FailedFileResultStillProjects(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(_ context.Context, _ int, _ string) (*models.StatusPayload, error) {
		return mustStatus(`{"status":"completed","output_file":"x.pdf","unstract_data":[{"file":"a.pdf","result":"quota exceeded"}]}`), nil
	}
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodUnstract, testDoc(), nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := awaitState(t, o, primaryIs(models.StatusCompleted))
	if st.View == nil {
		t.Fatal("completed task has no view")
	}
	if len(st.View.FileErrors) != 1 || st.View.FileErrors[0] != "a.pdf: quota exceeded" {
		t.Errorf("FileErrors = %v", st.View.FileErrors)
	}
}

func TestSubmit_TransportFailureLeavesNoTask(t *testing.T) {
	gw := newFakeGateway()
	gw.submitFn = func(context.Context, int, models.ExtractionMethod) (models.TaskHandle, error) {
		return models.TaskHandle{}, &api.TransportError{Op: api.OpSubmit, Err: errors.New("connection refused")}
	}
	o := newTestOrchestrator(t, gw)

	_, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams())
	var tErr *api.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("Submit() error = %v, want *api.TransportError", err)
	}
	if st := o.Snapshot(); st.Primary != nil {
		t.Errorf("primary task left behind: %+v", st.Primary)
	}
}

func TestPolling_TransientFailuresThenCompleted(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(_ context.Context, n int, _ string) (*models.StatusPayload, error) {
		if n <= constants.MaxConsecutiveFailures {
			return nil, &api.TransportError{Op: api.OpPollStatus, StatusCode: 502}
		}
		return mustStatus(`{"status":"completed"}`), nil
	}
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodLLMWhisperer, testDoc(), nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := awaitState(t, o, func(s State) bool { return s.Primary != nil && s.Primary.Status.IsTerminal() })
	if st.Primary.Status != models.StatusCompleted {
		t.Errorf("status = %s (%s), want Completed", st.Primary.Status, st.Primary.Message)
	}
}

func TestPolling_FailureThresholdEndsInError(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(context.Context, int, string) (*models.StatusPayload, error) {
		return nil, &api.TransportError{Op: api.OpPollStatus, Err: errors.New("connection reset")}
	}
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodLLMWhisperer, testDoc(), nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := awaitState(t, o, primaryIs(models.StatusError))

	var jobErr *BackendJobError
	if !errors.As(st.Primary.Err, &jobErr) {
		t.Fatalf("Err = %v, want *BackendJobError", st.Primary.Err)
	}
	if jobErr.Message != constants.UnreachableMessage || st.Primary.Message != constants.UnreachableMessage {
		t.Errorf("message = %q, want %q", jobErr.Message, constants.UnreachableMessage)
	}
	if n := gw.statusCount("task-1"); n != constants.MaxConsecutiveFailures+1 {
		t.Errorf("status calls = %d, want %d", n, constants.MaxConsecutiveFailures+1)
	}
}

func TestPolling_BackendErrorStopsTicking(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(context.Context, int, string) (*models.StatusPayload, error) {
		return mustStatus(`{"status":"error","message":"OCR engine crashed"}`), nil
	}
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := awaitState(t, o, primaryIs(models.StatusError))

	var jobErr *BackendJobError
	if !errors.As(st.Primary.Err, &jobErr) || jobErr.Message != "OCR engine crashed" {
		t.Errorf("Err = %v, want backend message verbatim", st.Primary.Err)
	}

	time.Sleep(10 * testInterval)
	if n := gw.statusCount("task-1"); n != 1 {
		t.Errorf("status calls = %d, want 1", n)
	}
}

func TestPolling_AuthErrorIsTerminal(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(context.Context, int, string) (*models.StatusPayload, error) {
		return nil, &api.AuthError{Op: api.OpPollStatus, Reason: "token rejected"}
	}
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodLLMWhisperer, testDoc(), nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := awaitState(t, o, primaryIs(models.StatusError))
	if !api.IsAuthError(st.Primary.Err) {
		t.Errorf("Err = %v, want *api.AuthError", st.Primary.Err)
	}
	if st.Primary.Message != constants.AuthRejectedMessage {
		t.Errorf("message = %q", st.Primary.Message)
	}
	if n := gw.statusCount("task-1"); n != 1 {
		t.Errorf("status calls = %d, want 1", n)
	}
}

func TestPolling_UnknownStatusKeepsPolling(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(_ context.Context, n int, _ string) (*models.StatusPayload, error) {
		switch n {
		case 1:
			return mustStatus(`{"status":"queued"}`), nil
		case 2:
			return mustStatus(`{"status":"warming_up","message":"allocating GPU"}`), nil
		default:
			return mustStatus(`{"status":"completed"}`), nil
		}
	}
	o := newTestOrchestrator(t, gw)
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	if _, err := o.Submit(context.Background(), models.MethodGPT4oVision, testDoc(), nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	awaitState(t, o, primaryIs(models.StatusCompleted))

	var progress []string
	for _, ev := range drain(ch) {
		if ev.Reason == ReasonProgress {
			progress = append(progress, ev.Primary.Message)
			if ev.Primary.Status != models.StatusRunning {
				t.Errorf("progress event status = %s, want Running", ev.Primary.Status)
			}
		}
	}
	if len(progress) != 2 || progress[1] != "allocating GPU" {
		t.Errorf("progress messages = %q", progress)
	}
}

func TestSubmit_ReplacesPrimaryPoller(t *testing.T) {
	gw := newFakeGateway()
	gw.submitFn = func(_ context.Context, n int, m models.ExtractionMethod) (models.TaskHandle, error) {
		if n == 1 {
			return models.TaskHandle{TaskID: "task-1", Method: m}, nil
		}
		return models.TaskHandle{TaskID: "task-2", Method: m}, nil
	}
	o := newTestOrchestrator(t, gw)

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	awaitState(t, o, func(State) bool { return gw.statusCount("task-1") >= 2 })

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if st := o.Snapshot(); st.Primary == nil || st.Primary.TaskID != "task-2" {
		t.Fatalf("tracked = %+v, want task-2", st.Primary)
	}

	time.Sleep(3 * testInterval)
	before := gw.statusCount("task-1")
	awaitState(t, o, func(State) bool { return gw.statusCount("task-2") >= 5 })
	if after := gw.statusCount("task-1"); after != before {
		t.Errorf("task-1 still polled after replacement: %d -> %d", before, after)
	}
}

func TestCancel_MidPollIgnoresLateResponse(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := newFakeGateway()
	gw.statusFn = func(_ context.Context, n int, _ string) (*models.StatusPayload, error) {
		if n == 1 {
			close(entered)
			<-release // the response arrives late regardless of cancellation
		}
		return mustStatus(`{"status":"completed","tables":[{"rows":1,"columns":1}]}`), nil
	}
	o := newTestOrchestrator(t, gw)
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("status was never polled")
	}

	o.Cancel()
	before := drain(ch)
	if len(before) == 0 || before[len(before)-1].Reason != ReasonCancelled {
		t.Fatalf("events before cancel returned = %v, want trailing %q", reasons(before), ReasonCancelled)
	}
	if last := before[len(before)-1]; last.Primary != nil || last.Simulation != nil || last.View != nil {
		t.Errorf("cancelled event still carries tasks: primary=%+v simulation=%+v", last.Primary, last.Simulation)
	}

	close(release)
	time.Sleep(20 * testInterval)

	if evs := drain(ch); len(evs) != 0 {
		t.Errorf("events after cancel = %v, want none", reasons(evs))
	}
	if st := o.Snapshot(); st.Primary != nil || st.View != nil {
		t.Errorf("state after cancel = %+v", st)
	}
	if n := gw.statusCount("task-1"); n != 1 {
		t.Errorf("status calls = %d, want 1", n)
	}
}

func TestCancel_SupersedesPendingSubmission(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := newFakeGateway()
	gw.submitFn = func(_ context.Context, _ int, m models.ExtractionMethod) (models.TaskHandle, error) {
		close(entered)
		<-release
		return models.TaskHandle{TaskID: "late", Method: m}, nil
	}
	o := newTestOrchestrator(t, gw)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams())
		errc <- err
	}()
	<-entered
	o.Cancel()
	close(release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Submit() error = %v, want ErrSuperseded", err)
	}
	time.Sleep(5 * testInterval)
	if st := o.Snapshot(); st.Primary != nil {
		t.Errorf("superseded task is tracked: %+v", st.Primary)
	}
	if n := gw.statusCount("late"); n != 0 {
		t.Errorf("superseded task polled %d times", n)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	o := newTestOrchestrator(t, newFakeGateway())
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	o.Cancel()
	o.Cancel()
	if evs := drain(ch); len(evs) != 0 {
		t.Errorf("cancel with nothing tracked published %v", reasons(evs))
	}
}

func TestLaunchSimulation_RequiresCompletedTask(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(t, gw)

	var stateErr *InvalidStateError
	if _, err := o.LaunchSimulation(context.Background(), "task-1"); !errors.As(err, &stateErr) {
		t.Fatalf("LaunchSimulation() with nothing tracked error = %v, want *InvalidStateError", err)
	}

	if _, err := o.Submit(context.Background(), models.MethodAbaqusFEM, testDoc(), models.SubmissionParams{"serial_number": "SN-1"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := o.LaunchSimulation(context.Background(), "task-1"); !errors.As(err, &stateErr) {
		t.Fatalf("LaunchSimulation() on running task error = %v, want *InvalidStateError", err)
	}
	if _, err := o.LaunchSimulation(context.Background(), "other"); !errors.As(err, &stateErr) {
		t.Fatalf("LaunchSimulation() on untracked task error = %v, want *InvalidStateError", err)
	}

	gw.mu.Lock()
	calls := gw.simSubmitCalls
	gw.mu.Unlock()
	if calls != 0 {
		t.Errorf("simulation submit calls = %d, want 0", calls)
	}
}

func TestLaunchSimulation_Flow(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(context.Context, int, string) (*models.StatusPayload, error) {
		return mustStatus(`{"status":"completed","output_file":"/r/model.inp","csv_file":"/r/geo.csv","length":100}`), nil
	}
	gw.simStatusFn = func(_ context.Context, n int, _ string) (*models.SimStatusPayload, error) {
		if n == 1 {
			return &models.SimStatusPayload{Status: "running", Output: "increment 1 of 10"}, nil
		}
		return &models.SimStatusPayload{
			Status:      "completed",
			Output:      "analysis complete",
			OutputFiles: models.OutputFiles{DAT: true, ODB: true},
		}, nil
	}
	o := newTestOrchestrator(t, gw)
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	params := models.SubmissionParams{"serial_number": "SN-7"}
	if _, err := o.Submit(context.Background(), models.MethodGLMAbaqusGenerator, testDoc(), params); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := awaitState(t, o, primaryIs(models.StatusCompleted))
	if st.View == nil || !st.View.SimulationReady {
		t.Fatalf("view = %+v, want simulation ready", st.View)
	}

	simID, err := o.LaunchSimulation(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("LaunchSimulation() error = %v", err)
	}
	if simID != "sim-1" {
		t.Errorf("simID = %q", simID)
	}

	st = awaitState(t, o, func(s State) bool {
		return s.Simulation != nil && s.Simulation.Status == models.StatusCompleted
	})
	sim := st.Simulation
	if sim.ParentTaskID != "task-1" || sim.Log != "analysis complete" {
		t.Errorf("simulation = %+v", sim)
	}
	if !sim.OutputFiles.DAT || !sim.OutputFiles.ODB || sim.OutputFiles.MSG {
		t.Errorf("output files = %+v", sim.OutputFiles)
	}
	if st.Primary == nil || st.Primary.Status != models.StatusCompleted {
		t.Errorf("primary changed by simulation: %+v", st.Primary)
	}

	var logs []string
	for _, ev := range drain(ch) {
		if ev.Reason == ReasonSimulationProgress {
			logs = append(logs, ev.Simulation.Log)
		}
	}
	if len(logs) != 1 || logs[0] != "increment 1 of 10" {
		t.Errorf("simulation progress logs = %q", logs)
	}
}

func TestSubmit_StopsSimulationPoller(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(_ context.Context, _ int, taskID string) (*models.StatusPayload, error) {
		if taskID == "task-1" {
			return mustStatus(`{"status":"completed"}`), nil
		}
		return mustStatus(`{"status":"running"}`), nil
	}
	gw.submitFn = func(_ context.Context, n int, m models.ExtractionMethod) (models.TaskHandle, error) {
		if n == 1 {
			return models.TaskHandle{TaskID: "task-1", Method: m}, nil
		}
		return models.TaskHandle{TaskID: "task-2", Method: m}, nil
	}
	o := newTestOrchestrator(t, gw)

	params := models.SubmissionParams{"serial_number": "SN-7"}
	if _, err := o.Submit(context.Background(), models.MethodAbaqusFEM, testDoc(), params); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	awaitState(t, o, primaryIs(models.StatusCompleted))
	if _, err := o.LaunchSimulation(context.Background(), "task-1"); err != nil {
		t.Fatalf("LaunchSimulation() error = %v", err)
	}
	awaitState(t, o, func(State) bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.simStatusCalls >= 2
	})

	if _, err := o.Submit(context.Background(), models.MethodAbaqusFEM, testDoc(), params); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if st := o.Snapshot(); st.Simulation != nil {
		t.Errorf("simulation still tracked: %+v", st.Simulation)
	}

	time.Sleep(3 * testInterval)
	gw.mu.Lock()
	before := gw.simStatusCalls
	gw.mu.Unlock()
	time.Sleep(10 * testInterval)
	gw.mu.Lock()
	after := gw.simStatusCalls
	gw.mu.Unlock()
	if after != before {
		t.Errorf("simulation still polled: %d -> %d", before, after)
	}
}

func TestAttach_PollsWithoutSubmitting(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(context.Context, int, string) (*models.StatusPayload, error) {
		return mustStatus(`{"status":"completed","extracted_text":"hello"}`), nil
	}
	o := newTestOrchestrator(t, gw)

	if err := o.Attach(models.TaskHandle{TaskID: "existing", Method: models.MethodLLMWhisperer}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	st := awaitState(t, o, primaryIs(models.StatusCompleted))
	if st.Primary.TaskID != "existing" || st.Primary.SubmittedAt.IsZero() {
		t.Errorf("primary = %+v", st.Primary)
	}
	if st.View == nil || len(st.View.Outputs) != 1 {
		t.Errorf("view = %+v", st.View)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.submitCalls != 0 {
		t.Errorf("submit calls = %d, want 0", gw.submitCalls)
	}
}

func TestAttach_RejectsBadHandle(t *testing.T) {
	o := newTestOrchestrator(t, newFakeGateway())
	if err := o.Attach(models.TaskHandle{Method: models.MethodLocal}); !api.IsValidationError(err) {
		t.Errorf("Attach() without id error = %v", err)
	}
	if err := o.Attach(models.TaskHandle{TaskID: "x", Method: "bogus"}); !api.IsValidationError(err) {
		t.Errorf("Attach() with unknown method error = %v", err)
	}
}

func TestClose(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, Options{PollInterval: testInterval, Logger: quietLogger()})
	ch, _ := o.Subscribe()

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	o.Close()
	o.Close()

	if _, err := o.Submit(context.Background(), models.MethodLocal, testDoc(), localParams()); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
	if _, err := o.LaunchSimulation(context.Background(), "task-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("LaunchSimulation() after Close error = %v, want ErrClosed", err)
	}

	drain(ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("subscription still open after Close")
		}
	case <-time.After(time.Second):
		t.Error("subscription not closed")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	o := newTestOrchestrator(t, newFakeGateway())
	ch, unsubscribe := o.Subscribe()
	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	o := newTestOrchestrator(t, newFakeGateway())
	ctx, cancel := context.WithTimeout(context.Background(), 3*testInterval)
	defer cancel()
	if _, err := o.Await(ctx, primaryIs(models.StatusCompleted)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await() error = %v, want deadline exceeded", err)
	}
}
