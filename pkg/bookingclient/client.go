/**
 * @description
 * This package provides a client for the booking service. The payment engine reads booking
 * amounts, parties and milestones from it and writes booking status changes back.
 */
package bookingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

// Client is a client for the booking service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new booking service client.
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

type updateStatusRequest struct {
	Status string `json:"status"`
}

// GetBooking fetches a booking with its milestones.
func (c *Client) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("booking service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/bookings/%s", c.baseURL, bookingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to booking service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.Errorf(domain.CodeNotFound, "booking %s not found", bookingID)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("booking service returned error status %d", resp.StatusCode)
	}

	var booking domain.Booking
	if err := json.NewDecoder(resp.Body).Decode(&booking); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if booking.ID == uuid.Nil {
		booking.ID = bookingID
	}
	return &booking, nil
}

// UpdateBookingStatus writes a booking status change.
func (c *Client) UpdateBookingStatus(ctx context.Context, bookingID uuid.UUID, status string) error {
	if c.baseURL == "" {
		return fmt.Errorf("booking service base url is empty")
	}

	body, err := json.Marshal(updateStatusRequest{Status: status})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/internal/bookings/%s/status", c.baseURL, bookingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to booking service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("booking service returned error status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-Internal-API-Key", key)
	}
}
