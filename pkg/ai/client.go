package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/medialib/curator/pkg/config"
)

// Message is one chat message sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Detection is a single AI-proposed value with its reported confidence.
type Detection struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Client talks to the completion service. Every call is recorded in the
// shared cost tracker under the caller's operation tag.
type Client struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	tracker     *CostTracker
	logger      *slog.Logger
}

// NewClient creates a completion client from configuration. The API key
// is read from the environment variable named by cfg.APIKeyEnv.
func NewClient(cfg *config.AIConfig, tracker *CostTracker, logger *slog.Logger) *Client {
	return &Client{
		url:         strings.TrimSuffix(cfg.URL, "/") + "/v1/chat/completions",
		apiKey:      os.Getenv(cfg.APIKeyEnv),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		tracker:     tracker,
		logger:      logger.With("component", "ai"),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

type completionRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one completion request and returns the text content.
func (c *Client) Complete(ctx context.Context, op Operation, messages []Message) (string, error) {
	return c.complete(ctx, op, messages, nil)
}

// CompleteStructured requests JSON conforming to schema and parses the
// content into out. A malformed response is ErrProtocol, not retried here.
func (c *Client) CompleteStructured(ctx context.Context, op Operation, messages []Message, schemaName string, schema json.RawMessage, out any) error {
	format := map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   schemaName,
			"schema": schema,
		},
	}
	content, err := c.complete(ctx, op, messages, format)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: structured response does not match schema %s: %v",
			ErrProtocol, schemaName, err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, op Operation, messages []Message, responseFormat any) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    c.temperature,
		ResponseFormat: responseFormat,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrConnection, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: service returned %d: %s",
			ErrConnection, resp.StatusCode, truncate(string(payload), 200))
	}

	var parsed completionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrProtocol, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrProtocol)
	}
	content := parsed.Choices[0].Message.Content

	promptTokens := parsed.Usage.PromptTokens
	completionTokens := parsed.Usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		// Transport did not report usage; fall back to the estimate.
		for _, m := range messages {
			promptTokens += estimateTokens(m.Content)
		}
		completionTokens = estimateTokens(content)
	}
	c.tracker.Record(op, c.model, promptTokens, completionTokens)

	c.logger.Debug("completion finished",
		"operation", string(op),
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens)
	return content, nil
}

// --- detector entry points ---

var detectionListSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"detections": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"value": {"type": "string"},
					"confidence": {"type": "number"}
				},
				"required": ["value", "confidence"]
			}
		}
	},
	"required": ["detections"]
}`)

type detectionList struct {
	Detections []Detection `json:"detections"`
}

// DetectStudio asks the model for the scene's studio. Returns nil when
// the model declines to answer.
func (c *Client) DetectStudio(ctx context.Context, data PromptData) (*Detection, error) {
	detections, err := c.detect(ctx, OpStudioDetection, StudioPrompt, data)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, nil
	}
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return &best, nil
}

// DetectPerformers asks the model for performers in the scene.
func (c *Client) DetectPerformers(ctx context.Context, data PromptData) ([]Detection, error) {
	return c.detect(ctx, OpPerformerDetection, PerformerPrompt, data)
}

// DetectTags asks the model for tags, constrained by the prompt to the
// available-tag list in data.Tags.
func (c *Client) DetectTags(ctx context.Context, data PromptData) ([]Detection, error) {
	return c.detect(ctx, OpTagDetection, TagPrompt, data)
}

func (c *Client) detect(ctx context.Context, op Operation, prompt string, data PromptData) ([]Detection, error) {
	rendered, err := RenderPrompt(prompt, data)
	if err != nil {
		return nil, err
	}
	var result detectionList
	err = c.CompleteStructured(ctx, op,
		[]Message{{Role: "user", Content: rendered}},
		"detections", detectionListSchema, &result)
	if err != nil {
		return nil, err
	}
	return result.Detections, nil
}

// --- batch analysis ---

// BatchSceneResult is one scene's slice of a batch analysis response.
type BatchSceneResult struct {
	Studio     *Detection  `json:"studio,omitempty"`
	Performers []Detection `json:"performers,omitempty"`
	Tags       []Detection `json:"tags,omitempty"`
}

var batchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"scenes": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"studio": {
						"type": "object",
						"properties": {
							"value": {"type": "string"},
							"confidence": {"type": "number"}
						}
					},
					"performers": {"type": "array", "items": {
						"type": "object",
						"properties": {
							"value": {"type": "string"},
							"confidence": {"type": "number"}
						}
					}},
					"tags": {"type": "array", "items": {
						"type": "object",
						"properties": {
							"value": {"type": "string"},
							"confidence": {"type": "number"}
						}
					}}
				}
			}
		}
	},
	"required": ["scenes"]
}`)

// BatchAnalyze composes multiple scenes into a single prompt and returns
// per-scene results keyed by scene ID. Scenes the model did not answer
// for get an empty result, not an error.
func (c *Client) BatchAnalyze(ctx context.Context, op Operation, scenes map[string]PromptData) (map[string]BatchSceneResult, error) {
	results := make(map[string]BatchSceneResult, len(scenes))
	if len(scenes) == 0 {
		return results, nil
	}

	var sb strings.Builder
	sb.WriteString("Analyze the following scenes. Respond with a JSON object keyed by scene ID.\n")
	for id, data := range scenes {
		fmt.Fprintf(&sb, "\n--- Scene %s ---\n", id)
		fmt.Fprintf(&sb, "File path: %s\nTitle: %s\nDetails: %s\n",
			data.FilePath, data.Title, truncate(data.Details, 500))
	}

	var parsed struct {
		Scenes map[string]BatchSceneResult `json:"scenes"`
	}
	err := c.CompleteStructured(ctx, op,
		[]Message{{Role: "user", Content: sb.String()}},
		"batch_analysis", batchSchema, &parsed)
	if err != nil {
		return nil, err
	}

	for id := range scenes {
		if result, ok := parsed.Scenes[id]; ok {
			results[id] = result
		} else {
			results[id] = BatchSceneResult{}
		}
	}
	return results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
