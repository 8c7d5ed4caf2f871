package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testTimeouts() Timeouts {
	return Timeouts{
		Status: 5 * time.Second,
		Frame:  5 * time.Second,
		Video:  5 * time.Second,
		Submit: 5 * time.Second,
	}
}

// TestClient_StructuredError_IsDataNotError verifies a backend 4xx/5xx with
// a body comes back as a Response, not a Go error
func TestClient_StructuredError_IsDataNotError(t *testing.T) {
	body := `{"detail":"Failed to read video"}`
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, body)
	}))
	defer backend.Close()

	c := New(backend.URL, testTimeouts())
	res, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("expected structured response, got error: %v", err)
	}
	if res.OK() {
		t.Error("expected OK()=false for 400")
	}
	if res.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", res.Status)
	}
	if string(res.Body) != body {
		t.Errorf("expected body %q preserved, got %q", body, res.Body)
	}
}

// TestClient_UnreachableHost_IsTransportError verifies connection failures
// are classified as *TransportError
func TestClient_UnreachableHost_IsTransportError(t *testing.T) {
	// Reserved port on localhost with nothing listening
	c := New("http://127.0.0.1:1", testTimeouts())

	_, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected transport error for unreachable host")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if te.Op != "health" {
		t.Errorf("expected op 'health', got %q", te.Op)
	}
}

// TestClient_AnalyzeFrame_ForwardsJSONVerbatim verifies the JSON body and
// content type reach the backend unchanged
func TestClient_AnalyzeFrame_ForwardsJSONVerbatim(t *testing.T) {
	payload := []byte(`{"image_base64":"data:image/jpeg;base64,QUJD"}`)

	var gotBody []byte
	var gotContentType string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		io.WriteString(w, `{"is_fall":false}`)
	}))
	defer backend.Close()

	c := New(backend.URL, testTimeouts())
	res, err := c.AnalyzeFrame(context.Background(), payload)
	if err != nil {
		t.Fatalf("AnalyzeFrame returned error: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected 2xx, got %d", res.Status)
	}
	if !bytes.Equal(gotBody, payload) {
		t.Errorf("backend received %q, expected %q", gotBody, payload)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected application/json content type, got %q", gotContentType)
	}
}

// TestClient_Multipart_CarriesFileAndFlag verifies the multipart re-encode:
// the file part keeps its name, bytes, and content type, and the
// save_to_bucket flag rides along as a form field
func TestClient_Multipart_CarriesFileAndFlag(t *testing.T) {
	var gotFilename, gotFileType, gotFlag string
	var gotData []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("backend failed to parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("backend missing file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = fh.Filename
		gotFileType = fh.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(f)
		gotFlag = r.FormValue("save_to_bucket")
		io.WriteString(w, `{"analyzed_frames":0}`)
	}))
	defer backend.Close()

	c := New(backend.URL, testTimeouts())
	up := Upload{
		Data:         []byte("fake-mp4-bytes"),
		Filename:     "walk.mp4",
		ContentType:  "video/mp4",
		SaveToBucket: true,
	}
	res, err := c.AnalyzeVideo(context.Background(), up)
	if err != nil {
		t.Fatalf("AnalyzeVideo returned error: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected 2xx, got %d: %s", res.Status, res.Body)
	}

	if gotFilename != "walk.mp4" {
		t.Errorf("expected filename walk.mp4, got %q", gotFilename)
	}
	if gotFileType != "video/mp4" {
		t.Errorf("expected file content type video/mp4, got %q", gotFileType)
	}
	if !bytes.Equal(gotData, up.Data) {
		t.Errorf("file bytes did not survive the re-encode")
	}
	if gotFlag != "true" {
		t.Errorf("expected save_to_bucket=true, got %q", gotFlag)
	}
}

// TestClient_AnnotateVideo_StreamIsUnread verifies the stream call hands
// back the body without consuming it
func TestClient_AnnotateVideo_StreamIsUnread(t *testing.T) {
	video := bytes.Repeat([]byte("MP4!"), 4096)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="walk_annotated.mp4"`)
		w.Write(video)
	}))
	defer backend.Close()

	c := New(backend.URL, testTimeouts())
	st, err := c.AnnotateVideo(context.Background(), Upload{Data: []byte("x"), Filename: "walk.mp4"})
	if err != nil {
		t.Fatalf("AnnotateVideo returned error: %v", err)
	}
	defer st.Body.Close()

	if st.Header.Get("Content-Disposition") == "" {
		t.Error("expected Content-Disposition to be available before reading the body")
	}
	got, err := io.ReadAll(st.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if !bytes.Equal(got, video) {
		t.Errorf("streamed body mismatch: got %d bytes, expected %d", len(got), len(video))
	}
}

// TestClient_JobProgress_EscapesIdentifier verifies a hostile job id cannot
// change the request path shape
func TestClient_JobProgress_EscapesIdentifier(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		io.WriteString(w, `{"status":"pending"}`)
	}))
	defer backend.Close()

	c := New(backend.URL, testTimeouts())
	if _, err := c.JobProgress(context.Background(), "../other"); err != nil {
		t.Fatalf("JobProgress returned error: %v", err)
	}
	if gotPath != "/annotate_progress/..%2Fother" {
		t.Errorf("expected escaped job id in path, got %q", gotPath)
	}
}
