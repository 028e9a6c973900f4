package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// HTTPBus talks to a chatroom server over its JSON API. Reads are retried;
// posts are sent once, since a post whose reply was lost may already be stored.
type HTTPBus struct {
	client *resty.Client
	poster *resty.Client
}

// HTTPBusConfig holds configuration for the HTTP bus client.
type HTTPBusConfig struct {
	BaseURL string
	Timeout time.Duration
	Retries int
}

// NewHTTPBus creates a bus client for the chatroom at cfg.BaseURL.
func NewHTTPBus(cfg HTTPBusConfig) *HTTPBus {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")
	poster := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &HTTPBus{client: client, poster: poster}
}

type listResponse struct {
	Success  bool             `json:"success"`
	Messages []models.Message `json:"messages"`
	Count    int              `json:"count"`
	Error    string           `json:"error,omitempty"`
}

type postRequest struct {
	User   string            `json:"user"`
	Text   string            `json:"text"`
	Sender models.SenderKind `json:"sender,omitempty"`
}

type postResponse struct {
	Success bool           `json:"success"`
	Message models.Message `json:"message"`
	Error   string         `json:"error,omitempty"`
}

// Post appends msg through the chatroom API.
func (h *HTTPBus) Post(ctx context.Context, msg models.Message) (models.Message, error) {
	var out postResponse
	resp, err := h.poster.R().
		SetContext(ctx).
		SetBody(postRequest{User: msg.User, Text: msg.Text, Sender: msg.Sender}).
		SetResult(&out).
		SetError(&out).
		Post("/api/messages")
	if err != nil {
		return msg, errors.NewTransportError("bus", err)
	}
	if resp.IsError() || !out.Success {
		return msg, errors.NewTransportError("bus", fmt.Errorf("post rejected: %s: %s", resp.Status(), out.Error))
	}
	return out.Message, nil
}

// Messages fetches the full history.
func (h *HTTPBus) Messages(ctx context.Context) ([]models.Message, error) {
	var out listResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/messages")
	if err != nil {
		return nil, errors.NewTransportError("bus", err)
	}
	if resp.IsError() || !out.Success {
		return nil, errors.NewTransportError("bus", fmt.Errorf("list failed: %s", resp.Status()))
	}
	return out.Messages, nil
}

var _ MessageBus = (*HTTPBus)(nil)
