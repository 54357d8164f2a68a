package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func uploadFile(t *testing.T, url, fileName string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("uploading: %v", err)
	}
	return resp
}

func TestResumeUploadLifecycle(t *testing.T) {
	deps, _ := newTestDeps(t, &apiModel{})
	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)

	uploadURL := srv.URL + "/api/threads/t1/resume"

	resp := uploadFile(t, uploadURL, "resume.txt", []byte(testResume))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want 200", resp.StatusCode)
	}
	var uploaded ArtifactResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decoding upload response: %v", err)
	}
	if uploaded.Version != 1 || uploaded.Kind != "resume" {
		t.Errorf("uploaded = %+v, want version 1 resume", uploaded)
	}
	if uploaded.Characters == 0 {
		t.Error("extracted text is empty")
	}

	// Re-upload bumps the version.
	resp = uploadFile(t, uploadURL, "resume-v2.txt", []byte("Jane Doe\nStaff Engineer"))
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decoding upload response: %v", err)
	}
	if uploaded.Version != 2 {
		t.Errorf("re-upload version = %d, want 2", uploaded.Version)
	}

	// Current artifact is the latest version.
	getResp, err := http.Get(uploadURL)
	if err != nil {
		t.Fatalf("GET resume: %v", err)
	}
	defer getResp.Body.Close()
	var current struct {
		Version int    `json:"version"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&current); err != nil {
		t.Fatalf("decoding artifact: %v", err)
	}
	if current.Version != 2 || !strings.Contains(current.Text, "Staff Engineer") {
		t.Errorf("current artifact = %+v", current)
	}

	// Delete, then it is gone.
	req, _ := http.NewRequest(http.MethodDelete, uploadURL, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE resume: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d, want 200", delResp.StatusCode)
	}

	getResp, err = http.Get(uploadURL)
	if err != nil {
		t.Fatalf("GET resume: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", getResp.StatusCode)
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	deps, _ := newTestDeps(t, &apiModel{})
	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)

	resp := uploadFile(t, srv.URL+"/api/threads/t1/resume", "resume.rtf", []byte("{\\rtf1 hi}"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadCorruptPDF(t *testing.T) {
	deps, _ := newTestDeps(t, &apiModel{})
	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)

	resp := uploadFile(t, srv.URL+"/api/threads/t1/resume", "resume.pdf", []byte("not a pdf"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestJobDescriptionFromURL(t *testing.T) {
	posting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Backend Engineer</h1><p>Go, Kubernetes, PostgreSQL.</p></body></html>`))
	}))
	t.Cleanup(posting.Close)

	deps, _ := newTestDeps(t, &apiModel{})
	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)

	body := `{"url":"` + posting.URL + `"}`
	resp, err := http.Post(srv.URL+"/api/threads/t1/job-description/url", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST job url: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/api/threads/t1/job-description")
	if err != nil {
		t.Fatalf("GET job description: %v", err)
	}
	defer getResp.Body.Close()
	var current struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&current); err != nil {
		t.Fatalf("decoding artifact: %v", err)
	}
	if !strings.Contains(current.Text, "Backend Engineer") || !strings.Contains(current.Text, "Kubernetes") {
		t.Errorf("fetched job text = %q", current.Text)
	}
}

func TestJobDescriptionURLErrors(t *testing.T) {
	deps, _ := newTestDeps(t, &apiModel{})
	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)

	// Missing url field.
	resp, err := http.Post(srv.URL+"/api/threads/t1/job-description/url", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url status = %d, want 400", resp.StatusCode)
	}

	// Unfetchable url.
	resp, err = http.Post(srv.URL+"/api/threads/t1/job-description/url", "application/json", strings.NewReader(`{"url":"ftp://nope"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("bad url status = %d, want 502", resp.StatusCode)
	}
}
