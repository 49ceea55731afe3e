package expo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL       = "https://exp.host"
	defaultClientTimeout = 10 * time.Second

	sendPath     = "/--/api/v2/push/send"
	receiptsPath = "/--/api/v2/push/getReceipts"
)

// Gateway is the outbound push delivery port: one batched send call issuing
// tickets, one batched receipt lookup resolving them.
type Gateway interface {
	SendMessages(ctx context.Context, messages []PushMessage) ([]PushTicket, error)
	GetReceipts(ctx context.Context, ticketIDs []string) (map[string]PushReceipt, error)
}

type sendResponse struct {
	Data []PushTicket `json:"data"`
}

type receiptsRequest struct {
	IDs []string `json:"ids"`
}

type receiptsResponse struct {
	Data map[string]PushReceipt `json:"data"`
}

// Client talks to the Expo push HTTP API.
type Client struct {
	client  *resty.Client
	baseURL string
}

func NewClient(baseURL string) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultClientTimeout)
	client.SetRetryCount(0)

	return NewClientWithResty(baseURL, client)
}

func NewClientWithResty(baseURL string, client *resty.Client) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid expo base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultClientTimeout)
	}
	client.SetRetryCount(0)

	return &Client{
		client:  client,
		baseURL: strings.TrimRight(trimmed, "/"),
	}, nil
}

// SendMessages submits one batch of at most MaxBatchSize messages and returns
// the tickets order-correlated with the input.
func (c *Client) SendMessages(ctx context.Context, messages []PushMessage) ([]PushTicket, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("expo client is not initialized")
	}
	if len(messages) == 0 {
		return nil, nil
	}
	if len(messages) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds gateway limit of %d", len(messages), MaxBatchSize)
	}

	var parsed sendResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(messages).
		SetResult(&parsed).
		Post(c.baseURL + sendPath)
	if err := classifyResponse(response, err); err != nil {
		return nil, err
	}

	if len(parsed.Data) != len(messages) {
		return nil, &GatewayError{
			Kind:    FailureServer,
			Message: fmt.Sprintf("gateway returned %d tickets for %d messages", len(parsed.Data), len(messages)),
		}
	}

	return parsed.Data, nil
}

// GetReceipts looks up receipts for at most MaxBatchSize ticket ids. Tickets
// the gateway has not processed yet are simply absent from the result.
func (c *Client) GetReceipts(ctx context.Context, ticketIDs []string) (map[string]PushReceipt, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("expo client is not initialized")
	}
	if len(ticketIDs) == 0 {
		return map[string]PushReceipt{}, nil
	}
	if len(ticketIDs) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds gateway limit of %d", len(ticketIDs), MaxBatchSize)
	}

	var parsed receiptsResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(receiptsRequest{IDs: ticketIDs}).
		SetResult(&parsed).
		Post(c.baseURL + receiptsPath)
	if err := classifyResponse(response, err); err != nil {
		return nil, err
	}

	if parsed.Data == nil {
		return map[string]PushReceipt{}, nil
	}
	return parsed.Data, nil
}

func classifyResponse(response *resty.Response, err error) error {
	if err != nil {
		kind := FailureNetwork
		if errors.Is(err, context.Canceled) {
			kind = FailureUnknown
		}
		return &GatewayError{
			Kind:    kind,
			Message: "gateway request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return &GatewayError{
			Kind:    FailureUnknown,
			Message: "gateway returned empty response",
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &GatewayError{
		Kind:       FailureServer,
		StatusCode: statusCode,
		Message:    strings.TrimSpace(response.String()),
	}
}
