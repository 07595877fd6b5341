package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sandro988/Weather-API/internal/models"
	"github.com/sandro988/Weather-API/internal/observability"
)

// Client fetches current weather for a city from the upstream provider.
type Client interface {
	Fetch(ctx context.Context, city string) (models.WeatherRecord, error)
	ValidateKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrCityNotFound  = errors.New("city not found")
	ErrTimeout       = errors.New("provider timeout")
	ErrUnavailable   = errors.New("provider unavailable")
)

// OpenWeatherClient calls an OpenWeatherMap-compatible current-weather API.
// One outbound GET per Fetch, no retries; an optional circuit breaker fails
// fast while the upstream is down.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker installs a breaker around outbound calls. Only transport
// failures, timeouts and 5xx responses count toward tripping it; a 404 city
// is a successful conversation with the provider.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// openWeatherResponse is the subset of the provider payload this service
// consumes. Cod is polymorphic upstream: a number on success, a quoted
// string on errors.
type openWeatherResponse struct {
	Cod  json.RawMessage `json:"cod"`
	Name string          `json:"name"`
	Main *struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

// Fetch issues one GET to the provider and parses the result into a
// WeatherRecord with FetchedAt set at parse completion.
func (c *OpenWeatherClient) Fetch(ctx context.Context, city string) (models.WeatherRecord, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherRecord{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.send(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.WeatherRecord{}, err
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	record, err := c.parseResponse(resp, city)
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.WeatherRecord{}, err
	}
	return record, nil
}

// send executes the request, through the breaker when one is installed.
func (c *OpenWeatherClient) send(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.transport(req)
	}
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.transport(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		return nil, err
	}
	return v.(*http.Response), nil
}

// transport performs the HTTP exchange and converts transport-level failures
// and 5xx responses into errors (these are the ones the breaker counts).
func (c *OpenWeatherClient) transport(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request canceled: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	return resp, nil
}

// parseResponse maps the provider payload onto the error taxonomy and, on
// success, onto a WeatherRecord.
func (c *OpenWeatherClient) parseResponse(resp *http.Response, city string) (models.WeatherRecord, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}

	var apiResp openWeatherResponse
	decodeErr := json.Unmarshal(body, &apiResp)

	// The upstream reports unknown cities as HTTP 404 or as a 2xx body
	// with cod "404".
	if resp.StatusCode == http.StatusNotFound || (decodeErr == nil && codString(apiResp.Cod) == "404") {
		return models.WeatherRecord{}, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return models.WeatherRecord{}, fmt.Errorf("%w: rejected by provider", ErrInvalidAPIKey)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return models.WeatherRecord{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	if decodeErr != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: parse response: %v", ErrUnavailable, decodeErr)
	}
	if apiResp.Main == nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: response missing main block", ErrUnavailable)
	}

	return c.mapResponse(apiResp, city), nil
}

// codString normalizes the polymorphic cod field to its digits.
func codString(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *OpenWeatherClient) mapResponse(apiResp openWeatherResponse, city string) models.WeatherRecord {
	condition := ""
	if len(apiResp.Weather) > 0 {
		condition = apiResp.Weather[0].Main
		if apiResp.Weather[0].Description != "" {
			condition = apiResp.Weather[0].Description
		}
	}

	displayName := apiResp.Name
	if displayName == "" {
		displayName = city
	}

	return models.WeatherRecord{
		City:        strings.ToLower(displayName),
		Temperature: apiResp.Main.Temp,
		Condition:   condition,
		FetchedAt:   time.Now().UTC(),
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateKey checks the configured API key against the provider. Used by
// the health endpoint.
func (c *OpenWeatherClient) ValidateKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
