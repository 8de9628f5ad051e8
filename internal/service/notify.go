package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

const notifyContentType = "application/json"

// NotifySink POSTs every run report as JSON to an HTTP endpoint.
type NotifySink struct {
	requestURL *url.URL
	client     *http.Client
}

func NewNotifySink(endpoint string) (*NotifySink, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, errors.New("please define the notify url with an http(s) scheme and a host, e.g. `https://studio.example.com/runs`")
	}
	return &NotifySink{
		requestURL: parsedURL,
		client:     &http.Client{},
	}, nil
}

// WithClient replaces the http.Client, intended for tests.
func (s *NotifySink) WithClient(c *http.Client) *NotifySink {
	s.client = c
	return s
}

func (s *NotifySink) Publish(ctx context.Context, runID string, result model.RunResult) error {
	raw, err := json.Marshal(report{RunID: runID, RunResult: result})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", notifyContentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifying %s: %w", s.requestURL.Host, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := decodeNotifyResponse(resp); err != nil {
		return fmt.Errorf("notifying %s: %w", s.requestURL.Host, err)
	}
	slog.DebugContext(ctx, "run report sent", slog.String("url", s.requestURL.String()), slog.Int("status", resp.StatusCode))
	return nil
}

func decodeNotifyResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "application/problem+json" {
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(respBody))
}
