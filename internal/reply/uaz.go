package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UAZProvider sends replies through the UAZ WhatsApp API.
type UAZProvider struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (p *UAZProvider) Name() string { return "uaz" }

func (p *UAZProvider) Send(ctx context.Context, msg Message) error {
	if msg.Number == "" || msg.Text == "" {
		return backoff.Permanent(errors.New("uaz reply requires number and text"))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.Endpoint, "/")+"/send/text", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", p.APIKey)

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("uaz temporary error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("uaz permanent error: %s", resp.Status))
	}
	return nil
}

// Retrying wraps a Provider with a short exponential retry per Send.
type Retrying struct {
	Provider       Provider
	MaxElapsedTime time.Duration
	AttemptTimeout time.Duration
}

func (r *Retrying) Name() string { return r.Provider.Name() }

func (r *Retrying) Send(ctx context.Context, msg Message) error {
	op := backoff.NewExponentialBackOff()
	op.MaxElapsedTime = 5 * time.Second
	if r.MaxElapsedTime > 0 {
		op.MaxElapsedTime = r.MaxElapsedTime
	}
	attemptTimeout := 3 * time.Second
	if r.AttemptTimeout > 0 {
		attemptTimeout = r.AttemptTimeout
	}
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		return r.Provider.Send(attemptCtx, msg)
	}, backoff.WithContext(op, ctx))
}
