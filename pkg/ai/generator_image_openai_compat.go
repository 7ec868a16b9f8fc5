package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatImageGenerator calls an OpenAI-compatible /v1/images/generations
// endpoint and returns the decoded image bytes.
type OpenAICompatImageGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
}

// NewOpenAICompatImageGenerator builds an OpenAI-compatible ImageGenerator.
// baseURL should include the /v1 prefix. size defaults to 1024x1024.
func NewOpenAICompatImageGenerator(baseURL, apiKey, model, size string) *OpenAICompatImageGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.TrimSpace(size) == "" {
		size = "1024x1024"
	}
	return &OpenAICompatImageGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		size:    size,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GenerateImage implements ImageGenerator using the images API.
func (g *OpenAICompatImageGenerator) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if g.model == "" {
		return nil, fmt.Errorf("image generation model required")
	}
	reqBody := imageRequest{
		Model:          g.model,
		Prompt:         prompt,
		Size:           g.size,
		ResponseFormat: "b64_json",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := g.baseURL + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp chatErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("image api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("image api error: %s", resp.Status)
	}

	var imgResp imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&imgResp); err != nil {
		return nil, fmt.Errorf("image decode: %w", err)
	}
	if len(imgResp.Data) == 0 || imgResp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("empty response from image api")
	}
	raw, err := base64.StdEncoding.DecodeString(imgResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("image base64 decode: %w", err)
	}
	return raw, nil
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}
