package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/config"
	"github.com/quorumdocs/docflow/model"
)

// DocumentClient is the HTTP client for the document service.
type DocumentClient struct {
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewDocumentClient creates a document service client from config.
func NewDocumentClient(cfg config.ServiceConfig, logger *zap.Logger) *DocumentClient {
	return &DocumentClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breakerFromConfig(cfg.CircuitBreaker),
		logger:  logger,
	}
}

// GetDocument fetches a document by ID.
func (c *DocumentClient) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := c.call(ctx, http.MethodGet,
		fmt.Sprintf("/api/documents/%s", url.PathEscape(documentID)), nil, &doc)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// UpdateCustomFields replaces the document's custom-fields bag.
func (c *DocumentClient) UpdateCustomFields(ctx context.Context, documentID string, fields map[string]any) error {
	body := map[string]any{"customFields": fields}
	return c.call(ctx, http.MethodPatch,
		fmt.Sprintf("/api/documents/%s/custom-fields", url.PathEscape(documentID)), body, nil)
}

func (c *DocumentClient) call(ctx context.Context, method, path string, body, out any) error {
	return doCall(ctx, c.http, c.breaker, c.logger, "documents", c.baseURL, method, path, body, out)
}

// UserClient is the HTTP client for the user service.
type UserClient struct {
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewUserClient creates a user service client from config.
func NewUserClient(cfg config.ServiceConfig, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breakerFromConfig(cfg.CircuitBreaker),
		logger:  logger,
	}
}

// GetUser fetches a user with its role by ID.
func (c *UserClient) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := doCall(ctx, c.http, c.breaker, c.logger, "users", c.baseURL, http.MethodGet,
		fmt.Sprintf("/api/users/%s", url.PathEscape(userID)), nil, &user)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func breakerFromConfig(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return NewCircuitBreaker(
		cfg.FailureThreshold,
		cfg.SuccessThreshold,
		cfg.Timeout,
		cfg.ErrorRateThreshold,
		cfg.ErrorRateWindow,
	)
}

// doCall runs one request through the breaker and decodes the response.
// 4xx responses count as service health, not failures, so a stream of
// not-found lookups cannot trip the breaker.
func doCall(ctx context.Context, client *http.Client, breaker *CircuitBreaker,
	logger *zap.Logger, service, baseURL, method, path string, body, out any) error {
	if err := breaker.Allow(); err != nil {
		return model.NewDirectoryUnavailableError(service)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", service, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", service, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		breaker.RecordFailure()
		logger.Warn("directory call failed",
			zap.String("service", service),
			zap.String("path", path),
			zap.Error(err))
		return model.NewDirectoryUnavailableError(service)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		breaker.RecordSuccess()
		return model.NewNotFoundError(fmt.Sprintf("%s: %s not found", service, path))
	case resp.StatusCode >= 500:
		breaker.RecordFailure()
		return model.NewDirectoryUnavailableError(service)
	case resp.StatusCode >= 400:
		breaker.RecordSuccess()
		return model.NewBadRequestError(fmt.Sprintf("%s returned status %d", service, resp.StatusCode))
	}

	breaker.RecordSuccess()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
