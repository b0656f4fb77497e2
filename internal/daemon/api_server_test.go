package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"storybook/internal/api"
	"storybook/internal/config"
	"storybook/internal/photo"
	"storybook/internal/queue"
	"storybook/internal/templates"
	"storybook/internal/testsupport"
)

type oneFace struct{}

func (oneFace) Detect(context.Context, string) ([]image.Rectangle, error) {
	return []image.Rectangle{image.Rect(100, 100, 300, 300)}, nil
}

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingSubmitter) Submit(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingSubmitter) submitted() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

type apiFixture struct {
	cfg   *config.Config
	store *queue.Store
	jobs  *recordingSubmitter
	srv   *httptest.Server
}

func newAPIFixture(t *testing.T, tune func(*config.Config)) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if tune != nil {
		tune(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.WriteTemplate(t, cfg.Paths.TemplatesDir, "forest", []testsupport.Slide{
		{Texts: []string{"Page 1: {{CHILD_NAME}} goes exploring"}},
	}, 1)

	jobs := &recordingSubmitter{}
	s := newAPIServer(cfg, apiDeps{
		store:     store,
		templates: templates.NewStore(cfg.Paths.TemplatesDir, nil, nil),
		validator: photo.NewValidator(cfg.Photo, oneFace{}, nil),
		jobs:      jobs,
	}, nil)
	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)
	return &apiFixture{cfg: cfg, store: store, jobs: jobs, srv: srv}
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) postPreview(t *testing.T, fields map[string]string, photoData []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if photoData != nil {
		part, err := mw.CreateFormFile("photo", "child.png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(photoData); err != nil {
			t.Fatalf("write photo: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := http.Post(f.srv.URL+"/api/previews", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST previews: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) postOrder(t *testing.T, req api.OrderRequest) *http.Response {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	resp, err := http.Post(f.srv.URL+"/api/orders", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST orders: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func sharpPhoto(t *testing.T) []byte {
	return testsupport.EncodePNG(t, testsupport.Pattern(640, 640, 90))
}

// completedPreview stores a finished preview with one page image on disk.
func (f *apiFixture) completedPreview(t *testing.T) *queue.Job {
	t.Helper()
	job := testsupport.NewPreview(t, f.store, "forest", filepath.Join(f.cfg.Paths.UploadsDir, "x", "child_photo.jpg"))
	page := filepath.Join(f.cfg.JobDir(job.Token), "pages", "page-1.png")
	testsupport.WriteImage(t, page, testsupport.Pattern(32, 32, 1))
	return testsupport.CompletePreview(t, f.store, job, queue.Outputs{PageImages: []string{page}})
}

func TestTemplatesEndpointListsCatalogue(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.get(t, "/api/templates")
	expectStatus(t, resp, http.StatusOK)
	list := decode[api.TemplateListResponse](t, resp)
	if len(list.Templates) != 1 || list.Templates[0].ID != "forest" || list.Templates[0].AgeRange != "3-6" {
		t.Fatalf("unexpected templates %+v", list.Templates)
	}
}

func TestCreatePreviewAcceptsUpload(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.postPreview(t, map[string]string{"template_id": "forest", "child_name": "Layla"}, sharpPhoto(t))
	expectStatus(t, resp, http.StatusAccepted)
	created := decode[api.PreviewCreated](t, resp)
	if created.PreviewToken == "" || created.Status != "queued" || created.EstimatedTimeSeconds != 90 {
		t.Fatalf("unexpected response %+v", created)
	}

	job, err := f.store.GetPreview(context.Background(), created.PreviewToken)
	if err != nil || job == nil {
		t.Fatalf("GetPreview: %v %v", job, err)
	}
	if job.ChildName != "Layla" || job.TemplateID != "forest" {
		t.Fatalf("unexpected job %+v", job)
	}
	want := filepath.Join(f.cfg.Paths.UploadsDir, created.PreviewToken, "child_photo.jpg")
	if job.PhotoPath != want {
		t.Fatalf("photo path = %q, want %q", job.PhotoPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("normalized photo missing: %v", err)
	}
	if job.ExpiresAt == nil || job.ExpiresAt.Before(time.Now().Add(7*24*time.Hour-time.Minute)) {
		t.Fatalf("expected seven day expiry, got %v", job.ExpiresAt)
	}
	if got := f.jobs.submitted(); len(got) != 1 || got[0] != job.ID {
		t.Fatalf("expected job %d submitted, got %v", job.ID, got)
	}
}

func TestCreatePreviewRejectsBlurryPhoto(t *testing.T) {
	f := newAPIFixture(t, nil)
	flat := testsupport.EncodePNG(t, testsupport.Solid(640, 640, color.RGBA{R: 180, G: 180, B: 180, A: 255}))
	resp := f.postPreview(t, map[string]string{"template_id": "forest", "child_name": "Layla"}, flat)
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode[api.ErrorResponse](t, resp)
	if body.Error != photo.MsgBlurry || body.Kind != "validation" {
		t.Fatalf("unexpected error %+v", body)
	}

	jobs, err := f.store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected upload must not create a job, got %d", len(jobs))
	}
	entries, _ := os.ReadDir(f.cfg.Paths.UploadsDir)
	if len(entries) != 0 {
		t.Fatalf("rejected upload left files behind: %v", entries)
	}
}

func TestCreatePreviewValidatesForm(t *testing.T) {
	f := newAPIFixture(t, nil)
	cases := []struct {
		name   string
		fields map[string]string
		photo  []byte
		want   int
	}{
		{"unknown template", map[string]string{"template_id": "ocean", "child_name": "Layla"}, sharpPhoto(t), http.StatusNotFound},
		{"missing name", map[string]string{"template_id": "forest"}, sharpPhoto(t), http.StatusBadRequest},
		{"missing photo", map[string]string{"template_id": "forest", "child_name": "Layla"}, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, f.postPreview(t, tc.fields, tc.photo), tc.want)
		})
	}
	if got := f.jobs.submitted(); len(got) != 0 {
		t.Fatalf("no job should be submitted, got %v", got)
	}
}

func TestCreatePreviewRejectsOversizedUpload(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config) { cfg.API.MaxUploadMB = 1 })
	huge := bytes.Repeat([]byte{0xff}, 3<<19)
	resp := f.postPreview(t, map[string]string{"template_id": "forest", "child_name": "Layla"}, huge)
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
}

func TestPreviewStatusExposesPagesOnceCompleted(t *testing.T) {
	f := newAPIFixture(t, nil)
	expectStatus(t, f.get(t, "/api/previews/unknown"), http.StatusNotFound)

	queued := testsupport.NewPreview(t, f.store, "forest", "photo.jpg")
	resp := f.get(t, "/api/previews/"+queued.Token)
	expectStatus(t, resp, http.StatusOK)
	if status := decode[api.PreviewStatus](t, resp); status.Status != "queued" || len(status.PreviewImagesURLs) != 0 {
		t.Fatalf("unexpected queued status %+v", status)
	}

	done := f.completedPreview(t)
	resp = f.get(t, "/api/previews/"+done.Token)
	expectStatus(t, resp, http.StatusOK)
	status := decode[api.PreviewStatus](t, resp)
	want := "/files/" + done.Token + "/pages/page-1.png"
	if status.Status != "completed" || status.Percent != 100 || len(status.PreviewImagesURLs) != 1 || status.PreviewImagesURLs[0] != want {
		t.Fatalf("unexpected completed status %+v", status)
	}

	page := f.get(t, want)
	expectStatus(t, page, http.StatusOK)
	if ct := page.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	expectStatus(t, f.get(t, "/files/"+done.Token+"/pages/"), http.StatusNotFound)
}

func TestPreviewStatusHidesExpiredPreview(t *testing.T) {
	f := newAPIFixture(t, nil)
	job, err := f.store.CreatePreview(context.Background(), queue.NewPreview{
		TemplateID: "forest",
		ChildName:  "Layla",
		PhotoPath:  "photo.jpg",
		ExpiresAt:  time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	expectStatus(t, f.get(t, "/api/previews/"+job.Token), http.StatusNotFound)
}

func TestFilesServeOnlyLivePreviewPages(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	live := f.completedPreview(t)
	stylized := filepath.Join(f.cfg.JobDir(live.Token), "stylized.jpg")
	testsupport.WriteImage(t, stylized, testsupport.Pattern(16, 16, 2))
	expectStatus(t, f.get(t, "/files/"+live.Token+"/pages/page-1.png"), http.StatusOK)
	expectStatus(t, f.get(t, "/files/"+live.Token+"/stylized.jpg"), http.StatusNotFound)
	expectStatus(t, f.get(t, "/files/"+live.Token+"/pages/../stylized.jpg"), http.StatusNotFound)

	expired, err := f.store.CreatePreview(ctx, queue.NewPreview{
		TemplateID: "forest",
		ChildName:  "Layla",
		PhotoPath:  "photo.jpg",
		ExpiresAt:  time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	page := filepath.Join(f.cfg.JobDir(expired.Token), "pages", "page-1.png")
	testsupport.WriteImage(t, page, testsupport.Pattern(32, 32, 3))
	testsupport.WriteImage(t, filepath.Join(f.cfg.JobDir(expired.Token), "stylized.jpg"), testsupport.Pattern(16, 16, 4))
	testsupport.CompletePreview(t, f.store, expired, queue.Outputs{PageImages: []string{page}})
	expectStatus(t, f.get(t, "/api/previews/"+expired.Token), http.StatusNotFound)
	expectStatus(t, f.get(t, "/files/"+expired.Token+"/pages/page-1.png"), http.StatusNotFound)
	expectStatus(t, f.get(t, "/files/"+expired.Token+"/stylized.jpg"), http.StatusNotFound)

	_, book, err := f.store.CreateOrder(ctx, queue.NewOrder{
		PreviewToken:  live.Token,
		CustomerName:  "Sam Parent",
		CustomerEmail: "sam@example.com",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	pdf := filepath.Join(f.cfg.JobDir(book.Token), "book.pdf")
	if err := os.MkdirAll(filepath.Dir(pdf), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pdf, []byte("%PDF-1.4 book"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectStatus(t, f.get(t, "/files/"+book.Token+"/book.pdf"), http.StatusNotFound)
}

func TestOrderLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()
	preview := f.completedPreview(t)

	resp := f.postOrder(t, api.OrderRequest{
		PreviewToken:  preview.Token,
		CustomerName:  "Sam Parent",
		CustomerEmail: "Sam@Example.com",
		ChildAge:      5,
	})
	expectStatus(t, resp, http.StatusAccepted)
	created := decode[api.OrderCreated](t, resp)
	if created.OrderNumber == "" || created.Message != "Order created. Book generation started." {
		t.Fatalf("unexpected order response %+v", created)
	}

	base := "/api/orders/" + created.OrderNumber
	expectStatus(t, f.get(t, base+"/status?email=other@example.com"), http.StatusNotFound)
	expectStatus(t, f.get(t, base+"/status"), http.StatusNotFound)

	resp = f.get(t, base+"/status?email=sam@example.com")
	expectStatus(t, resp, http.StatusOK)
	if status := decode[api.OrderStatus](t, resp); status.GenerationStatus != "queued" || status.FinalPDFURL != "" {
		t.Fatalf("unexpected order status %+v", status)
	}
	expectStatus(t, f.get(t, base+"/download?email=sam@example.com"), http.StatusConflict)

	order, err := f.store.OrderByNumber(ctx, created.OrderNumber)
	if err != nil || order == nil {
		t.Fatalf("OrderByNumber: %v", err)
	}
	if got := f.jobs.submitted(); len(got) != 1 || got[0] != order.JobID {
		t.Fatalf("expected book job %d submitted, got %v", order.JobID, got)
	}
	pdf := filepath.Join(f.cfg.JobDir(created.OrderNumber), "book.pdf")
	if err := os.MkdirAll(filepath.Dir(pdf), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pdf, []byte("%PDF-1.4 book"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.store.MarkStarted(ctx, order.JobID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := f.store.UpdateFinalPaths(ctx, order.JobID, queue.Outputs{PDFPath: pdf}); err != nil {
		t.Fatalf("UpdateFinalPaths: %v", err)
	}

	resp = f.get(t, base+"/status?email=sam@example.com")
	status := decode[api.OrderStatus](t, resp)
	if status.GenerationStatus != "completed" || !strings.HasSuffix(status.FinalPDFURL, base+"/download") {
		t.Fatalf("unexpected completed status %+v", status)
	}

	resp = f.get(t, base+"/download?email=sam@example.com")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "%PDF-1.4 book" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestCreateOrderErrors(t *testing.T) {
	f := newAPIFixture(t, nil)
	queued := testsupport.NewPreview(t, f.store, "forest", "photo.jpg")

	cases := []struct {
		name string
		req  api.OrderRequest
		want int
	}{
		{"unknown preview", api.OrderRequest{PreviewToken: "nope", CustomerName: "A", CustomerEmail: "a@example.com"}, http.StatusNotFound},
		{"preview not ready", api.OrderRequest{PreviewToken: queued.Token, CustomerName: "A", CustomerEmail: "a@example.com"}, http.StatusBadRequest},
		{"missing email", api.OrderRequest{PreviewToken: queued.Token, CustomerName: "A"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, f.postOrder(t, tc.req), tc.want)
		})
	}

	resp, err := http.Post(f.srv.URL+"/api/orders", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestHealthReportsDatabase(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.get(t, "/api/health")
	expectStatus(t, resp, http.StatusOK)
	health := decode[api.HealthResponse](t, resp)
	if health.Status != "ok" || health.Database != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.get(t, "/api/nothing")
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[api.ErrorResponse](t, resp); body.Kind != "not_found" {
		t.Fatalf("unexpected body %+v", body)
	}
}
