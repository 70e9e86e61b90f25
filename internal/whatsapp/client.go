// Package whatsapp talks to the WhatsApp gateway that hosts the clinic's
// sending sessions, one per channel.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wolfman30/dental-crm-messaging/internal/channels"
)

// ErrSendFailed wraps every non-blocking provider failure.
var ErrSendFailed = errors.New("whatsapp: send failed")

// SendResult is the provider's answer to a send.
type SendResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

type sendRequest struct {
	Phone    string `json:"phone"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client sends messages through the gateway REST API.
type Client struct {
	http *resty.Client
}

// NewClient configures a gateway client. The token is sent as a bearer header.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("whatsapp: base URL cannot be empty")
	}
	if token == "" {
		return nil, fmt.Errorf("whatsapp: API token cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{http: httpClient}, nil
}

// SendMessage delivers content to phone from the given channel. A number the
// provider reports as banned yields channels.ErrChannelBlocked.
func (c *Client) SendMessage(ctx context.Context, channelID, phone, content, mediaURL string) (SendResult, error) {
	var ok sendResponse
	var failure errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("channel", channelID).
		SetBody(sendRequest{Phone: phone, Body: content, MediaURL: mediaURL}).
		SetResult(&ok).
		SetError(&failure).
		Post("/channels/{channel}/messages")
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if resp.IsError() {
		if isBlocked(resp.StatusCode(), failure.Code) {
			return SendResult{}, fmt.Errorf("%w: %s", channels.ErrChannelBlocked, failure.Message)
		}
		return SendResult{}, fmt.Errorf("%w: status %d: %s %s", ErrSendFailed, resp.StatusCode(), failure.Code, failure.Message)
	}
	if ok.ID == "" {
		return SendResult{}, fmt.Errorf("%w: empty message id", ErrSendFailed)
	}
	return SendResult{Success: true, ProviderMessageID: ok.ID}, nil
}

func isBlocked(status int, code string) bool {
	switch code {
	case "number_blocked", "banned", "account_restricted":
		return true
	}
	return status == http.StatusLocked
}
