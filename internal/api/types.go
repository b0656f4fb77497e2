package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// EstimatedPreviewSeconds is the wait advertised when a preview is accepted.
const EstimatedPreviewSeconds = 90

// Template describes a storybook a customer can personalize.
type Template struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AgeRange    string `json:"age_range,omitempty"`
}

// TemplateListResponse wraps the template catalogue.
type TemplateListResponse struct {
	Templates []Template `json:"templates"`
}

// PreviewCreated is returned when a preview upload is accepted.
type PreviewCreated struct {
	PreviewToken         string `json:"preview_token"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// PreviewStatus reports preview progress and, once completed, page URLs.
type PreviewStatus struct {
	PreviewToken      string   `json:"preview_token"`
	Status            string   `json:"status"`
	Percent           float64  `json:"percent"`
	ImagesCompleted   int      `json:"images_completed"`
	ImagesTotal       int      `json:"images_total"`
	PreviewImagesURLs []string `json:"preview_images_urls,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`
	ExpiresAt         string   `json:"expires_at,omitempty"`
}

// OrderRequest is the body of POST /api/orders.
type OrderRequest struct {
	PreviewToken  string `json:"preview_token"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	ChildAge      int    `json:"child_age"`
}

// OrderCreated is returned when an order is accepted.
type OrderCreated struct {
	OrderNumber string `json:"order_number"`
	Message     string `json:"message"`
}

// OrderStatus reports full-book generation progress for an order.
type OrderStatus struct {
	OrderNumber          string `json:"order_number"`
	GenerationStatus     string `json:"generation_status"`
	CharactersCompleted  int    `json:"characters_completed"`
	CharactersTotal      int    `json:"characters_total"`
	EstimatedTimeMinutes int    `json:"estimated_time_minutes"`
	FinalPDFURL          string `json:"final_pdf_url,omitempty"`
	ErrorMessage         string `json:"error_message,omitempty"`
}

// JobItem is the operator view of a generation job.
type JobItem struct {
	ID               int64    `json:"id"`
	Kind             string   `json:"kind"`
	Token            string   `json:"token"`
	TemplateID       string   `json:"template_id"`
	ChildName        string   `json:"child_name"`
	Status           string   `json:"status"`
	Percent          float64  `json:"percent"`
	ImagesCompleted  int      `json:"images_completed"`
	ImagesTotal      int      `json:"images_total"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	Swapped          []string `json:"swapped,omitempty"`
	PageImages       []string `json:"page_images,omitempty"`
	DeckPath         string   `json:"deck_path,omitempty"`
	PDFPath          string   `json:"pdf_path,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
	StartedAt        string   `json:"started_at,omitempty"`
	CompletedAt      string   `json:"completed_at,omitempty"`
	ExpiresAt        string   `json:"expires_at,omitempty"`
}

// CheckResult mirrors one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes the work queue.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	ActiveJobs int            `json:"active_jobs"`
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	LastError  string         `json:"last_error,omitempty"`
	QueueStats map[string]int `json:"queue_stats"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Database string         `json:"database"`
	Workflow WorkflowStatus `json:"workflow"`
	Checks   []CheckResult  `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
