/**
 * @description
 * This package provides a client for the text-recognition service. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * recognition endpoint, handling request body construction, and parsing
 * responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package visionclient

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

// Client is a client for the text-recognition API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new recognition API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RecognitionResult is the recognized text plus the service's confidence
// estimate on a 0-100 scale.
type RecognitionResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type recognizeRequest struct {
	ImageBase64   string   `json:"image_base64"`
	LanguageHints []string `json:"language_hints,omitempty"`
}

// ErrorResponse represents an error from the recognition API.
type ErrorResponse struct {
	Err struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("recognition api error: %s - %s", e.Err.Code, e.Err.Message)
	}
	return "unknown recognition api error"
}

// RecognizeText submits image bytes for recognition and returns the raw text
// with its confidence.
func (c *Client) RecognizeText(ctx context.Context, imageData []byte) (*RecognitionResult, error) {
	payload := recognizeRequest{
		ImageBase64:   base64.StdEncoding.EncodeToString(imageData),
		LanguageHints: []string{"en", "fil"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/recognize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call recognition api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read recognition response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Err.Message != "" {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("recognition api returned status %d", resp.StatusCode)
	}

	var result RecognitionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode recognition response: %w", err)
	}
	return &result, nil
}
