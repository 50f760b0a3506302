// Package llm implements the external model gateway: a thin request/response
// wrapper around a vision-capable chat-completions API that extracts a
// structured recipe document from an image.
//
// The gateway is single-shot and synchronous: one request, one response, no
// retries, no streaming. The request carries a response_format constraint
// naming the required JSON schema; the pipeline still re-validates the
// returned body before persisting anything.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL targets the OpenAI-compatible completions API.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the vision-capable model used for extraction.
	DefaultModel = "gpt-4o-mini"
	// DefaultTimeout bounds the otherwise unbounded suspension on the model
	// call.
	DefaultTimeout = 90 * time.Second

	// maxErrorBody caps how much of a provider error body is carried in the
	// returned error. The pipeline truncates again before persisting.
	maxErrorBody = 2048
)

// systemPrompt pins the assistant to strict JSON output.
const systemPrompt = "You are a strict JSON formatter. Output ONLY valid JSON, no prose, no code fences."

// recipeSchema is the structural constraint handed to the API. Every
// property is required; unknown values must be emitted as null so the
// downstream parser always sees every key.
const recipeSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["title", "portions", "duration_minutes", "accessories", "ingredients", "steps", "notes"],
  "properties": {
    "title": {"type": "string"},
    "portions": {"type": ["number", "null"]},
    "duration_minutes": {"type": ["number", "null"]},
    "accessories": {"type": "array", "items": {"type": "string"}},
    "ingredients": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "amount", "notes"],
        "properties": {
          "name": {"type": "string"},
          "amount": {"type": "string"},
          "notes": {"type": "string"}
        }
      }
    },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["step", "appliance"],
        "properties": {
          "step": {"type": "string"},
          "appliance": {
            "type": "object",
            "additionalProperties": false,
            "required": ["mode", "temp_c", "speed", "time_seconds"],
            "properties": {
              "mode": {"type": ["string", "null"]},
              "temp_c": {"type": ["number", "null"]},
              "speed": {"type": ["string", "null"]},
              "time_seconds": {"type": ["number", "null"]}
            }
          }
        }
      }
    },
    "notes": {"type": ["string", "null"]}
  }
}`

// Client calls the chat-completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

// NewClient constructs a gateway client. Empty baseURL, model, or timeout
// fall back to the package defaults.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// --- wire types ---

// contentPart is one element of a multimodal user message.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type request struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// --- gateway operation ---

// ExtractRecipe asks the model to read the recipe photographed at imgURL
// and return it as a single JSON document conforming to the recipe schema.
// applianceHint, when non-empty, is a free-form hardware variant tag the
// model should tailor appliance parameters toward.
//
// The raw message content of the first choice is returned; callers own
// schema validation. Any non-2xx status, transport failure, or empty
// response surfaces as a single opaque error.
func (c *Client) ExtractRecipe(ctx context.Context, imgURL, applianceHint string) (string, error) {
	instruction := "Extract the recipe from the image and convert it into a structured appliance recipe. " +
		"Answer exclusively with valid JSON conforming to the required schema. " +
		"Estimate missing appliance parameters conservatively and record assumptions in 'notes'."
	if strings.TrimSpace(applianceHint) != "" {
		instruction += " Target appliance version: " + applianceHint + "."
	}

	reqBody := request{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: imgURL}},
			}},
		},
		Temperature: 0,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   "recipe_extraction",
				Strict: true,
				Schema: json.RawMessage(recipeSchema),
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return "", fmt.Errorf("model returned status %d: %s", res.StatusCode, string(body))
	}

	var parsed response
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("model returned no content")
	}
	return parsed.Choices[0].Message.Content, nil
}
