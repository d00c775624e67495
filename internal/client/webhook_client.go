package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

// WebhookClient delivers one message per HTTP call to a provider endpoint.
type WebhookClient struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhookClient(url string, ratePerSec int) *WebhookClient {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

type sendRequest struct {
	PhoneNumber       string `json:"phoneNumber"`
	Message           string `json:"message"`
	PhoneID           string `json:"phoneId"`
	BusinessAccountID string `json:"businessAccountId"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

var statusReasons = map[int]Reason{
	http.StatusTooManyRequests:     ReasonRateLimited,
	http.StatusPaymentRequired:     ReasonInsufficientBalance,
	http.StatusNotFound:            ReasonNotRegistered,
	http.StatusUnprocessableEntity: ReasonInvalidNumber,
	http.StatusGatewayTimeout:      ReasonNetworkTimeout,
}

func (c *WebhookClient) Send(ctx context.Context, phoneNumber, message string, creds model.Credentials) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &DeliveryError{Reason: ReasonRateLimited, Err: err}
	}

	reqBody, err := json.Marshal(sendRequest{
		PhoneNumber:       phoneNumber,
		Message:           message,
		PhoneID:           creds.PhoneID,
		BusinessAccountID: creds.BusinessAccountID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &DeliveryError{Reason: ReasonNetworkTimeout, Err: err}
		}
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		err := fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
		if reason, ok := statusReasons[resp.StatusCode]; ok {
			return "", &DeliveryError{Reason: reason, Err: err}
		}
		return "", err
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	return sr.MessageID, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
