package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Padding in pixels added around the prepared image before recognition,
// so text at the very edge is not truncated by the detector.
const imagePadding = 50

// ServiceError indicates the recognition service itself was unreachable
// or returned a failure, as opposed to a data-quality problem in an
// otherwise successful response. Callers can retry or abort on this
// without confusing it with a parse failure.
type ServiceError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ocr service %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("ocr service %s: status %d", e.URL, e.StatusCode)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// RawDetection is one detector token in padded-image pixel coordinates.
// The wire shape is a heterogeneous pair: [[[x,y] x4], [text, confidence]].
type RawDetection struct {
	Box        [][2]float64
	Text       string
	Confidence float64
}

// UnmarshalJSON decodes the [box, [text, confidence]] pair format.
func (d *RawDetection) UnmarshalJSON(data []byte) error {
	var outer []json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("decoding detection: %w", err)
	}
	if len(outer) != 2 {
		return fmt.Errorf("detection has %d elements, want 2", len(outer))
	}
	if err := json.Unmarshal(outer[0], &d.Box); err != nil {
		return fmt.Errorf("decoding detection box: %w", err)
	}
	var meta []json.RawMessage
	if err := json.Unmarshal(outer[1], &meta); err != nil {
		return fmt.Errorf("decoding detection meta: %w", err)
	}
	if len(meta) != 2 {
		return fmt.Errorf("detection meta has %d elements, want 2", len(meta))
	}
	if err := json.Unmarshal(meta[0], &d.Text); err != nil {
		return fmt.Errorf("decoding detection text: %w", err)
	}
	if err := json.Unmarshal(meta[1], &d.Confidence); err != nil {
		return fmt.Errorf("decoding detection confidence: %w", err)
	}
	return nil
}

// RawResult is the recognition service's response before grouping.
type RawResult struct {
	Status      string         `json:"status"`
	ImageWidth  float64        `json:"image_width"`
	ImageHeight float64        `json:"image_height"`
	Detections  []RawDetection `json:"detections"`
}

// Client implements the OCRer interface against an HTTP recognition service
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new recognition service client
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8868"
	}

	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 120 * time.Second, // large photos can take a while
		},
	}, nil
}

type recognizeRequest struct {
	Image   string `json:"image"`
	Padding int    `json:"padding"`
}

// Recognize sends the prepared image to the service and groups the raw
// detections into reading-order lines with normalized geometry.
func (c *Client) Recognize(ctx context.Context, imageData []byte, contentType string) (*Result, error) {
	finalImageData, _, err := PrepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	reqBody := recognizeRequest{
		Image:   base64.StdEncoding.EncodeToString(finalImageData),
		Padding: imagePadding,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/ocr", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServiceError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ServiceError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(body)),
		}
	}

	var raw RawResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if raw.Status != "" && raw.Status != "success" {
		return nil, &ServiceError{URL: url, Err: fmt.Errorf("status %q", raw.Status)}
	}

	return transformRawResult(&raw, imagePadding), nil
}

// Close closes the client (no-op for HTTP client)
func (c *Client) Close() error {
	return nil
}
