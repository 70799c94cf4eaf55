package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// OPAClient talks to the external policy decision point. Calls are rate
// limited and run behind a circuit breaker so a struggling policy point
// degrades to denial instead of piling up blocked handlers.
type OPAClient struct {
	cfg     domain.OPAConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewOPAClient creates a policy-point client.
func NewOPAClient(cfg domain.OPAConfig, logger *logrus.Logger) *OPAClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 20
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "opa",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return &OPAClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(limit), limit),
		log:     logger,
	}
}

// post sends one policy query and decodes the result field into out.
func (c *OPAClient) post(ctx context.Context, path string, input map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for policy-point rate limit: %w", err)
	}
	_, err := c.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(map[string]any{"input": input})
		if err != nil {
			return nil, fmt.Errorf("encoding policy query: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building policy query: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.Secret != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Secret)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("querying policy point: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("policy point returned %d", resp.StatusCode)
		}
		var envelope struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("decoding policy response: %w", err)
		}
		if envelope.Result == nil {
			return nil, nil
		}
		return nil, json.Unmarshal(envelope.Result, out)
	})
	return err
}

// IsActionAllowedForProgram asks the policy point whether the token may
// perform method on path within the given program (cohort).
func (c *OPAClient) IsActionAllowedForProgram(ctx context.Context, token, method, path, program string) (bool, error) {
	var datasets []string
	err := c.post(ctx, "/v1/data/permissions/datasets", map[string]any{
		"token": token,
		"body": map[string]any{
			"path":   path,
			"method": method,
		},
	}, &datasets)
	if err != nil {
		return false, err
	}
	for _, d := range datasets {
		if d == program {
			return true, nil
		}
	}
	return false, nil
}

// GetOpaDatasets returns every cohort the token is allowed to read.
func (c *OPAClient) GetOpaDatasets(ctx context.Context, token, method, path string) ([]string, error) {
	var datasets []string
	err := c.post(ctx, "/v1/data/permissions/datasets", map[string]any{
		"token": token,
		"body": map[string]any{
			"path":   path,
			"method": method,
		},
	}, &datasets)
	if err != nil {
		return nil, err
	}
	return datasets, nil
}

// IsSiteAdmin asks the policy point whether the token holds the site-admin
// role.
func (c *OPAClient) IsSiteAdmin(ctx context.Context, token string) (bool, error) {
	var result bool
	err := c.post(ctx, "/v1/data/idp/"+c.cfg.SiteAdminKey, map[string]any{
		"token": token,
	}, &result)
	if err != nil {
		return false, err
	}
	return result, nil
}
