// Package waclient wraps the WhatsApp Cloud API endpoints the concierge
// needs: text sends, document sends and read receipts.
package waclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
	defaultMaxLength  = 4096
	// minMaxLength keeps a misconfigured OUTBOUND_MAX_LENGTH from producing
	// unusable (or negative) truncation slices.
	minMaxLength = 20

	// overlongRetryThreshold: a rejected text above this length is assumed to
	// have been bounced for size and is retried shorter.
	overlongRetryThreshold = 250
	// retryTruncateLength is the body length used for the shortened retry.
	retryTruncateLength = 200

	defaultSendRetries = 1
)

// Config controls how the Cloud API client behaves.
type Config struct {
	BaseURL    string
	Token      string
	PhoneID    string
	APIVersion string
	MaxLength  int
	// SendRetries is how many times a rejected overlong text is retried with
	// a shortened body. Zero means the default of one retry.
	SendRetries int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// Client issues requests against one WhatsApp Business phone number.
type Client struct {
	baseURL     string
	token       string
	phoneID     string
	version     string
	maxLength   int
	sendRetries int
	httpClient  *http.Client
	logger      *logging.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("waclient: access token is required")
	}
	if strings.TrimSpace(cfg.PhoneID) == "" {
		return nil, errors.New("waclient: phone number id is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	if maxLength < minMaxLength {
		maxLength = minMaxLength
	}
	sendRetries := cfg.SendRetries
	if sendRetries <= 0 {
		sendRetries = defaultSendRetries
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       cfg.Token,
		phoneID:     cfg.PhoneID,
		version:     version,
		maxLength:   maxLength,
		sendRetries: sendRetries,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message. Text over the configured limit is
// truncated up front; when the provider still rejects a long body, the send
// is retried with a much shorter payload before the error is surfaced.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("waclient: recipient is required")
	}
	if utf8.RuneCountInString(text) > c.maxLength {
		runes := []rune(text)
		text = string(runes[:c.maxLength-3]) + "..."
		c.logger.Warn("waclient: outbound text truncated", "to", to, "max_length", c.maxLength)
	}
	id, err := c.sendText(ctx, to, text)
	if err == nil || utf8.RuneCountInString(text) <= overlongRetryThreshold {
		return id, err
	}
	if ctx.Err() != nil {
		return "", err
	}
	short := string([]rune(text)[:retryTruncateLength]) + "..."
	for attempt := 1; attempt <= c.sendRetries; attempt++ {
		c.logger.Warn("waclient: long text rejected, retrying truncated",
			"to", to, "attempt", attempt, "error", err)
		id, rerr := c.sendText(ctx, to, short)
		if rerr == nil {
			return id, nil
		}
		err = rerr
	}
	return "", err
}

func (c *Client) sendText(ctx context.Context, to, text string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text, "preview_url": false},
	}
	return c.send(ctx, payload)
}

// SendDocument sends a hosted document (the catalog PDF) with a caption.
func (c *Client) SendDocument(ctx context.Context, to, documentURL, caption string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("waclient: recipient is required")
	}
	if strings.TrimSpace(documentURL) == "" {
		return "", errors.New("waclient: document url is required")
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "document",
		"document":          map[string]any{"link": documentURL, "caption": caption},
	}
	return c.send(ctx, payload)
}

// MarkAsRead sets the blue double-check on an inbound message. Failures are
// harmless; callers may ignore the error.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return errors.New("waclient: message id is required")
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	_, err := c.send(ctx, payload)
	return err
}

func (c *Client) send(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("waclient: marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("waclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("waclient: http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("waclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("waclient: api error %d (code %d): %s",
				resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return "", fmt.Errorf("waclient: unexpected status %d", resp.StatusCode)
	}

	var out sendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("waclient: decode response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}
