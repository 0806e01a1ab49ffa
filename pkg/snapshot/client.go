package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/likelottery/pkg/commitment"
	"github.com/Mindburn-Labs/likelottery/pkg/util/resiliency"
)

const drawDataPath = "/api/like-lottery/lotteryDraw/create"

// maxResponseBytes bounds a draw data response.
const maxResponseBytes = 64 << 20

// APIError is a non-2xx answer from the participant data service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("participant data request failed: %d - %s", e.Status, e.Message)
}

// Doer sends HTTP requests. *resiliency.EnhancedClient satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the participant data service.
type Client struct {
	baseURL string
	secret  string
	http    Doer
	logger  *slog.Logger
}

// NewClient returns a client for baseURL. A nil doer uses a resilient client
// with the given timeout.
func NewClient(baseURL, secret string, doer Doer, timeout time.Duration) (*Client, error) {
	if secret == "" {
		return nil, errors.New("participant data service secret is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("participant data base url: %w", err)
	}
	if doer == nil {
		doer = resiliency.NewEnhancedClient(resiliency.Options{Name: "like-api", Timeout: timeout, MaxRetries: 3})
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		http:    doer,
		logger:  slog.Default().With("component", "snapshot"),
	}, nil
}

// Fetched is a validated response together with its exact bytes.
type Fetched struct {
	Cutoff time.Time
	Raw    []byte
	Data   *DrawData
}

// FetchDrawData requests the participants counted before cutoff.
func (c *Client) FetchDrawData(ctx context.Context, cutoff time.Time) (*Fetched, error) {
	u, err := url.Parse(c.baseURL + drawDataPath)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	q := u.Query()
	q.Set("beforeDateTime", commitment.FormatCutoff(cutoff))
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.InfoContext(ctx, "fetching draw data", "cutoff", commitment.FormatCutoff(cutoff))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch draw data: %w", resiliency.RedactError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read draw data: %w", err)
	}
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("draw data exceeds %d bytes", maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	data, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	for _, issue := range data.Reconcile() {
		c.logger.WarnContext(ctx, "draw data summary mismatch", "issue", issue)
	}
	c.logger.InfoContext(ctx, "draw data fetched",
		"lottery", data.Lottery.Title, "status", data.Lottery.Status, "participants", len(data.Participants))
	return &Fetched{Cutoff: cutoff, Raw: raw, Data: data}, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return "Unknown error"
	}
	return payload.Error.Message
}
