package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Client performs one timed call to one hosted inference endpoint. The
// image travels as a base64 body, the credential as a query parameter,
// matching the hosted model API.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient builds an inference client with the given per-call
// timeout.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger.Named("inference_client"),
	}
}

type inferenceResponse struct {
	Predictions []Prediction `json:"predictions"`
	Image       struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"image"`
}

// Invoke issues a single inference call and classifies any failure.
// The timeout aborts the in-flight request; classification of a given
// transport error or status code is deterministic.
func (c *Client) Invoke(ctx context.Context, endpoint Endpoint, image []byte) (*PredictionSet, error) {
	if endpoint.URL == "" || endpoint.APIKey == "" {
		return nil, &Error{Kind: KindConfigError, Message: "inference endpoint not configured"}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, &Error{Kind: KindConfigError, Message: "invalid inference endpoint URL", Err: err}
	}
	query := target.Query()
	query.Set("api_key", endpoint.APIKey)
	target.RawQuery = query.Encode()

	body := base64.StdEncoding.EncodeToString(image)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target.String(), strings.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindConfigError, Message: "failed to build inference request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransport(err)
		c.logger.Warn("inference call failed",
			zap.String("kind", string(classified)),
			zap.Error(err))
		return nil, &Error{Kind: classified, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		classified := classifyStatus(resp.StatusCode)
		c.logger.Warn("inference call rejected upstream",
			zap.String("kind", string(classified)),
			zap.Int("status", resp.StatusCode))
		return nil, &Error{
			Kind:    classified,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("upstream status %d", resp.StatusCode),
		}
	}

	var decoded inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Kind: KindNetworkError, Message: "malformed inference response", Err: err}
	}

	return &PredictionSet{
		Predictions: decoded.Predictions,
		ImageWidth:  decoded.Image.Width,
		ImageHeight: decoded.Image.Height,
	}, nil
}

// classifyTransport maps a transport-level failure to its kind.
// Precedence: timeout, then DNS, then connection refused, then the
// generic network bucket.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindUnreachable
	}
	return KindNetworkError
}

// classifyStatus maps a non-2xx upstream status to its kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindUpstreamRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthError
	case status == http.StatusBadRequest:
		return KindInvalidInput
	default:
		return KindUpstreamError
	}
}
