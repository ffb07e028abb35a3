package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

const userAgent = "Zentry-Webhooks/1.0"

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	// Err is set when no HTTP response was observed.
	Err error
}

type Sender struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewSender builds a sender whose every send, including time spent waiting
// on the rate limiter, is bounded by timeout. A zero limit disables rate
// limiting.
func NewSender(timeout time.Duration, limit float64, burst int) *Sender {
	s := &Sender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
	if limit > 0 {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return s
}

func (s *Sender) Send(ctx context.Context, url string, payload []byte) *SendResult {
	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return &SendResult{
				Err:       fmt.Errorf("rate limit wait: %w", err),
				LatencyMs: time.Since(start).Milliseconds(),
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Err:       fmt.Errorf("failed to create request: %w", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Err:       fmt.Errorf("request failed: %w", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*models.ResponseExcerptLimit))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: excerpt(body),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}

// excerpt keeps the first ResponseExcerptLimit characters of a response body.
func excerpt(body []byte) string {
	s := strings.ToValidUTF8(string(body), "�")
	if utf8.RuneCountInString(s) <= models.ResponseExcerptLimit {
		return s
	}
	return string([]rune(s)[:models.ResponseExcerptLimit])
}
