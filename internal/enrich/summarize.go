package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gurisko/demosite/internal/limits"
)

// Summary service defaults
const (
	DefaultSummaryBaseURL = "https://api.openai.com/v1"
	DefaultSummaryModel   = "gpt-4.1-mini"
	MaxSummaryWords       = 45
)

const systemPrompt = "You write concise, factual company summaries for internal demo directories."

// SummaryInput is what a summary is written from
type SummaryInput struct {
	Name    string
	Website string
	Tone    string
	Page    Page
}

// Summarizer writes a short blurb about a company
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
	Model() string
}

// APIError is a non-2xx response from the summary service
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("summary API error %d: %s", e.Status, e.Body)
}

// Temporary reports whether the request is worth repeating
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// OpenAIConfig configures an OpenAIClient. Zero values take the defaults.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

// OpenAIClient talks to an OpenAI Responses-compatible endpoint
type OpenAIClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	retryBase   time.Duration
}

// NewOpenAIClient creates a summary client
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSummaryBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultSummaryModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 1500 * time.Millisecond
	}
	return &OpenAIClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
	}
}

// Model returns the model summaries are requested from
func (c *OpenAIClient) Model() string { return c.model }

type responsesRequest struct {
	Model       string         `json:"model"`
	Input       []inputMessage `json:"input"`
	Temperature float64        `json:"temperature"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			Value string `json:"value"`
		} `json:"content"`
	} `json:"output"`
}

// Prompt renders the user prompt for in
func Prompt(in SummaryInput) string {
	website := in.Website
	if website == "" {
		website = "(not provided)"
	}
	var b strings.Builder
	b.WriteString("You are generating short blurbs for an internal demo-site directory.\n\n")
	fmt.Fprintf(&b, "Company name: %s\nWebsite: %s\nTone: %s\n\n", in.Name, website, in.Tone)
	b.WriteString("Use the information below from the company's website (it may be partial or messy).\n")
	fmt.Fprintf(&b, "Write a concise 1-2 sentence summary (max %d words) in a %s tone.\n", MaxSummaryWords, strings.ToLower(in.Tone))
	b.WriteString("No hype, no markdown, no quotes. Don't mention that you're an AI.\n\n")
	fmt.Fprintf(&b, "Page title: %s\nMeta description: %s\n\n", in.Page.Title, in.Page.Description)
	fmt.Fprintf(&b, "Extracted text:\n%s", truncate(in.Page.Text, limits.SummaryInput))
	return strings.TrimSpace(b.String())
}

// Summarize asks the service for a summary, retrying rate limits and server
// errors with exponential backoff
func (c *OpenAIClient) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	payload := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(in)},
		},
		Temperature: 0.4,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, err := c.doRequest(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var apiErr *APIError
		retryable := !errors.As(err, &apiErr) || apiErr.Temporary()
		if !retryable || ctx.Err() != nil || attempt == c.maxAttempts {
			break
		}

		wait := c.backoff(attempt)
		if apiErr != nil && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		log.Printf("[DEBUG] summarize: attempt %d/%d failed (%v), retrying in %s", attempt, c.maxAttempts, err, wait)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

func (c *OpenAIClient) backoff(attempt int) time.Duration {
	d := c.retryBase << (attempt - 1)
	return d + rand.N(c.retryBase/2+1)
}

func (c *OpenAIClient) doRequest(ctx context.Context, payload responsesRequest) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, limits.ErrorBody))
		return "", &APIError{
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out responsesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, limits.JSON)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var parts []string
	for _, item := range out.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type != "output_text" && c.Type != "text" {
				continue
			}
			t := c.Text
			if t == "" {
				t = c.Value
			}
			if t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), nil
}

// parseRetryAfter understands the delay-seconds form, fractional or not
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
