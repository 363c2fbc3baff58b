package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/cutline/agent/internal/config"
	"github.com/cutline/agent/internal/models"
)

// HTTPBackend implements Backend over the caption service's JSON API
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend creates a backend client for the configured caption
// service. Requests authenticate via an OAuth2 client-credentials token
// source, or a static bearer token in development.
func NewHTTPBackend(cfg *config.Config) *HTTPBackend {
	timeout := cfg.RemoteTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var client *http.Client
	switch {
	case cfg.Remote.StaticToken != "":
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Remote.StaticToken})
		client = oauth2.NewClient(context.Background(), source)
	case cfg.Remote.TokenURL != "":
		creds := clientcredentials.Config{
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			TokenURL:     cfg.Remote.TokenURL,
		}
		client = creds.Client(context.Background())
	default:
		client = &http.Client{}
	}
	client.Timeout = timeout

	return &HTTPBackend{
		baseURL:    strings.TrimRight(cfg.Remote.BaseURL, "/"),
		httpClient: client,
	}
}

// upsertRequest is the push payload for one record
type upsertRequest struct {
	ID          string    `json:"id"`
	Caption     string    `json:"caption"`
	DateTaken   time.Time `json:"dateTaken"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// upsertResponse carries the remote identity assigned by the service
type upsertResponse struct {
	Ref     string `json:"ref"`
	Version int64  `json:"version"`
}

type changesRequest struct {
	SinceToken string `json:"sinceToken,omitempty"`
	PageSize   int    `json:"pageSize"`
}

type subscribeResponse struct {
	SubscriptionID string `json:"subscriptionId"`
}

// Upsert pushes a record to the caption service
func (b *HTTPBackend) Upsert(ctx context.Context, record *models.Record) (*models.RemoteRef, error) {
	payload := upsertRequest{
		ID:          record.ID,
		Caption:     record.Caption,
		DateTaken:   record.DateTaken,
		LastUpdated: record.LastUpdated,
	}

	var result upsertResponse
	if err := b.doJSON(ctx, http.MethodPut, "/api/captions/"+record.ID, payload, &result); err != nil {
		return nil, err
	}

	return &models.RemoteRef{Ref: result.Ref, Version: result.Version}, nil
}

// Delete removes a record by remote ref
func (b *HTTPBackend) Delete(ctx context.Context, ref *models.RemoteRef) error {
	return b.doJSON(ctx, http.MethodDelete, "/api/captions/ref/"+ref.Ref, nil, nil)
}

// FetchChanges requests one page of the change feed
func (b *HTTPBackend) FetchChanges(ctx context.Context, sinceToken string, pageSize int) (*models.ChangePage, error) {
	payload := changesRequest{SinceToken: sinceToken, PageSize: pageSize}

	var page models.ChangePage
	if err := b.doJSON(ctx, http.MethodPost, "/api/captions/changes", payload, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Subscribe registers for change notifications
func (b *HTTPBackend) Subscribe(ctx context.Context) (string, error) {
	var result subscribeResponse
	if err := b.doJSON(ctx, http.MethodPost, "/api/captions/subscriptions", nil, &result); err != nil {
		return "", err
	}
	return result.SubscriptionID, nil
}

// NotificationsURL returns the websocket endpoint carrying change
// notifications for an existing subscription
func (b *HTTPBackend) NotificationsURL() string {
	url := b.baseURL + "/api/captions/notifications"
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}

func (b *HTTPBackend) doJSON(ctx context.Context, method, path string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all retryable
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("remote: decoding response: %w", err)
		}
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Err: fmt.Errorf("server returned %s", resp.Status)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}
