package ocr

import "context"

// Word is a single recognized token with normalized geometry.
// BBox is [[x0,y0],[x1,y1]] with coordinates in [0,1] image space.
type Word struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	BBox       [2][2]float64 `json:"bbox"`
}

// CenterX returns the horizontal center of the word in [0,1] space.
func (w Word) CenterX() float64 {
	return (w.BBox[0][0] + w.BBox[1][0]) / 2
}

// CenterY returns the vertical center of the word in [0,1] space.
func (w Word) CenterY() float64 {
	return (w.BBox[0][1] + w.BBox[1][1]) / 2
}

// MinX returns the left edge of the word in [0,1] space.
func (w Word) MinX() float64 {
	return w.BBox[0][0]
}

// Line is an ordered row of words judged to lie on the same visual line.
type Line struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Page holds the grouped lines of one recognized page.
type Page struct {
	Lines []Line `json:"lines"`
}

// Result is the structured output of a recognition pass. FullText is the
// newline-joined line text; Pages carries per-word geometry when the
// backend provides it (the Gemini transcriber does not).
type Result struct {
	Status   string `json:"status"`
	FullText string `json:"full_text"`
	Pages    []Page `json:"pages"`
}

// HasWordGeometry reports whether the result carries usable per-word
// bounding boxes, which the spatial item strategy requires.
func (r *Result) HasWordGeometry() bool {
	if r == nil || len(r.Pages) == 0 {
		return false
	}
	lines := r.Pages[0].Lines
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		for _, word := range line.Words {
			if word.BBox[1][0] > 0 || word.BBox[1][1] > 0 {
				return true
			}
		}
	}
	return false
}

// OCRer defines the interface for receipt text recognition backends
type OCRer interface {
	// Recognize extracts text (and geometry, when available) from an image
	Recognize(ctx context.Context, imageData []byte, contentType string) (*Result, error)
	// Close closes the backend and releases resources
	Close() error
}
