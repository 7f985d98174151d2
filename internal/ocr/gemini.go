package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcribePrompt asks for a verbatim transcript. The vision model
// cannot return word geometry, so its results always take the text-line
// extraction path.
const transcribePrompt = `You are transcribing a paper receipt. Read every line of text in the image from top to bottom and return it verbatim, one receipt line per output line.

Rules:
- Preserve the original reading order and line breaks.
- Keep prices, quantities, and codes exactly as printed, including symbols like $ and @.
- Do not summarize, translate, correct spelling, or add commentary.
- Do not use markdown code blocks.
- Return only the transcript text.`

// Gemini implements the OCRer interface using a Google Gemini vision model
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini transcriber instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Recognize transcribes a receipt image into a text-only Result.
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, contentType string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	finalImageData, _, err := PrepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(transcribePrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &ServiceError{URL: "gemini", Err: err}
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &ServiceError{URL: "gemini", Err: fmt.Errorf("empty response")}
	}

	var transcript strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			transcript.WriteString(string(text))
		}
	}

	text := strings.TrimSpace(transcript.String())
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var lines []Line
	for _, lineText := range strings.Split(text, "\n") {
		lineText = strings.TrimSpace(lineText)
		if lineText == "" {
			continue
		}
		lines = append(lines, Line{Text: lineText})
	}

	lineTexts := make([]string, len(lines))
	for i, line := range lines {
		lineTexts[i] = line.Text
	}

	return &Result{
		Status:   "success",
		FullText: strings.Join(lineTexts, "\n"),
		Pages:    []Page{{Lines: lines}},
	}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
