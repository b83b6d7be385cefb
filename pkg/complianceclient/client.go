/**
 * @description
 * This package provides a client for the vendor compliance service, which owns verification
 * documents and their review state.
 */
package complianceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

const approvedStatus = "APPROVED"

// Client is a client for the compliance service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new compliance service client.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type documentsResponse struct {
	Documents []struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"documents"`
}

// ApprovedDocumentTypes returns the document types the vendor has had approved. A vendor the
// compliance service does not know has no approved documents.
func (c *Client) ApprovedDocumentTypes(ctx context.Context, vendorID uuid.UUID) ([]domain.DocumentType, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("compliance service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/vendors/%s/documents", c.baseURL, vendorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-Internal-API-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to compliance service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []domain.DocumentType{}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("compliance service returned error status %d", resp.StatusCode)
	}

	var response documentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	approved := make([]domain.DocumentType, 0, len(response.Documents))
	for _, doc := range response.Documents {
		if strings.EqualFold(strings.TrimSpace(doc.Status), approvedStatus) {
			approved = append(approved, domain.DocumentType(strings.ToUpper(strings.TrimSpace(doc.Type))))
		}
	}
	return approved, nil
}
