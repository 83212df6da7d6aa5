package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

// HTTPDestination talks to a destination system's JSON API.
//
//	GET  {base}/records?start=YYYY-MM-DD&end=YYYY-MM-DD
//	POST {base}/notes
type HTTPDestination struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewHTTPDestination creates a destination client for baseURL. token, when
// set, is sent as a bearer token.
func NewHTTPDestination(baseURL, token string, timeout time.Duration) *HTTPDestination {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDestination{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type httpRecord struct {
	ID          string    `json:"id"`
	PatientName string    `json:"patient_name"`
	VisitDate   time.Time `json:"visit_date"`
	Provider    string    `json:"provider"`
	Location    string    `json:"location"`
	Text        string    `json:"text"`
	IsSigned    bool      `json:"is_signed"`
}

// Records fetches destination records for dates.
func (d *HTTPDestination) Records(ctx context.Context, dates model.DateRange) ([]model.DestinationRecord, error) {
	q := url.Values{}
	if !dates.Start.IsZero() {
		q.Set("start", dates.Start.Format("2006-01-02"))
	}
	if !dates.End.IsZero() {
		q.Set("end", dates.End.Format("2006-01-02"))
	}
	endpoint := d.baseURL + "/records"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("destination API error (status %d): %s", resp.StatusCode, string(body))
	}

	var records []httpRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}

	out := make([]model.DestinationRecord, 0, len(records))
	for _, r := range records {
		out = append(out, model.DestinationRecord{
			ID:          r.ID,
			PatientName: r.PatientName,
			VisitDate:   model.DateOnly(r.VisitDate),
			Provider:    r.Provider,
			Location:    r.Location,
			Text:        r.Text,
			IsSigned:    r.IsSigned,
		})
	}
	return out, nil
}

// Push posts a cleaned note. 409 and 422 are rejections; 429, 5xx and
// network failures are transport errors.
func (d *HTTPDestination) Push(ctx context.Context, upload UploadRequest) error {
	payload, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("failed to marshal upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/notes", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", upload.ResultID)
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w (status %d): %s", common.ErrUploadRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w (status %d): %s", common.ErrUploadTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", common.ErrUploadRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func (d *HTTPDestination) authorize(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}
