package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/pkg/destination"
)

// Config holds SMS gateway configuration
type Config struct {
	GatewayURL string
	APIKey     string
	SenderID   string
}

// Client delivers verification codes through an HTTP SMS gateway
type Client struct {
	config Config
	http   *http.Client
}

// New creates a new gateway client. The HTTP client carries its own
// timeout as a backstop; callers still bound each send with a context.
func New(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// SendCode texts a verification code to a phone number. Any gateway
// failure is returned to the caller, never swallowed.
func (c *Client) SendCode(ctx context.Context, phone, code string, purpose model.ChallengePurpose) error {
	text := fmt.Sprintf("Your DealerDesk sign-in code is %s", code)
	if purpose == model.PurposePasswordReset {
		text = fmt.Sprintf("Your DealerDesk password reset code is %s", code)
	}

	payload, err := json.Marshal(sendRequest{
		To:      phone,
		From:    c.config.SenderID,
		Message: text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	log.Printf("📱 SMS sent to %s", destination.Mask(phone))
	return nil
}
