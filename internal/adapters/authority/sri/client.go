// Package sri is the tax authority client: SOAP calls to the reception and authorization
// web services, protected by a circuit breaker, a rate limit and a concurrency cap.
package sri

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	tracedhttp "3tcapital/ms_emision_electronica/internal/infrastructure/http"
)

// HTTPClient allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoints are the service URLs of one authority environment.
type Endpoints struct {
	Reception     string
	Authorization string
}

// Config configures the authority client.
type Config struct {
	Test               Endpoints
	Production         Endpoints
	Timeout            time.Duration
	MaxConcurrent      int
	RateLimitRPS       int
	BreakerMaxFailures int
	BreakerFailureRate float64
	BreakerCooldown    time.Duration
}

// Client implements authority.Client against the SOAP web services.
type Client struct {
	cfg        Config
	httpClient HTTPClient
	log        *slog.Logger
	breaker    *CircuitBreaker
	limiter    *Limiter
}

var _ authority.Client = (*Client)(nil)

var accessCodePattern = regexp.MustCompile(`<claveAcceso>(\d{49})</claveAcceso>`)

// NewClient creates an authority client.
func NewClient(cfg Config, httpClient HTTPClient, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
		breaker:    NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerFailureRate, cfg.BreakerCooldown),
		limiter:    NewLimiter(cfg.RateLimitRPS, cfg.MaxConcurrent),
	}
}

// SubmitForValidation sends the signed document to the reception service.
func (c *Client) SubmitForValidation(ctx context.Context, env document.Environment, signed []byte) (authority.ValidationResult, error) {
	accessCode := ""
	if m := accessCodePattern.FindSubmatch(signed); m != nil {
		accessCode = string(m[1])
	}

	body, err := c.call(ctx, opValidate, c.endpoints(env).Reception, accessCode, validateEnvelope(signed))
	if err != nil {
		return authority.ValidationResult{}, err
	}

	envl, err := decodeEnvelope(body)
	if err != nil {
		return authority.ValidationResult{}, &authority.TransientSubmissionError{Op: opValidate, Err: err}
	}
	if f := envl.Body.Fault; f != nil {
		return authority.ValidationResult{}, &authority.TransientSubmissionError{Op: opValidate, Err: fmt.Errorf("soap fault %s: %s", f.Code, f.String)}
	}
	resp := envl.Body.Reception
	if resp == nil {
		return authority.ValidationResult{}, &authority.TransientSubmissionError{Op: opValidate, Err: errors.New("response without reception result")}
	}

	var rs []authority.Reason
	for _, receipt := range resp.Receipts {
		rs = append(rs, reasons(receipt.Messages)...)
	}

	switch resp.State {
	case receptionReceived:
		c.log.Info("Document received by authority", "access_code", accessCode, "environment", env.String())
		return authority.ValidationResult{Accepted: true, Reasons: rs}, nil
	case receptionReturned:
		if onlyAlreadyRegistered(rs) {
			c.log.Info("Document already registered at authority, treating as received",
				"access_code", accessCode,
				"environment", env.String(),
			)
			return authority.ValidationResult{Accepted: true, Reasons: rs}, nil
		}
		c.log.Warn("Document returned by authority",
			"access_code", accessCode,
			"environment", env.String(),
			"reasons", rs,
		)
		return authority.ValidationResult{Accepted: false, Reasons: rs},
			&authority.RejectedError{Stage: document.StageValidate, Reasons: rs}
	default:
		return authority.ValidationResult{}, &authority.TransientSubmissionError{Op: opValidate, Err: fmt.Errorf("unknown reception state %q", resp.State)}
	}
}

// RequestAuthorization asks for the authorization of accessCode.
func (c *Client) RequestAuthorization(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
	return c.authorize(ctx, env, accessCode)
}

// FetchStatus polls the authorization status of accessCode. The authority exposes a
// single operation for both, so this is the same call.
func (c *Client) FetchStatus(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
	return c.authorize(ctx, env, accessCode)
}

func (c *Client) authorize(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
	body, err := c.call(ctx, opAuthorize, c.endpoints(env).Authorization, accessCode, authorizeEnvelope(accessCode))
	if err != nil {
		return authority.AuthorizationResult{}, err
	}

	envl, err := decodeEnvelope(body)
	if err != nil {
		return authority.AuthorizationResult{}, &authority.TransientSubmissionError{Op: opAuthorize, Err: err}
	}
	if f := envl.Body.Fault; f != nil {
		return authority.AuthorizationResult{}, &authority.TransientSubmissionError{Op: opAuthorize, Err: fmt.Errorf("soap fault %s: %s", f.Code, f.String)}
	}
	resp := envl.Body.Authorization
	if resp == nil {
		return authority.AuthorizationResult{}, &authority.TransientSubmissionError{Op: opAuthorize, Err: errors.New("response without authorization result")}
	}

	result := authority.AuthorizationResult{Status: authority.StatusPending, AccessCode: accessCode}

	// No entries yet means the authority has not processed the document.
	if len(resp.Authorizations) == 0 {
		return result, nil
	}

	for _, entry := range resp.Authorizations {
		if entry.State != authorizationGranted {
			continue
		}
		result.Status = authority.StatusAuthorized
		result.Reasons = reasons(entry.Messages)
		if at, ok := parseAuthorizationTime(entry.AuthorizedAt); ok {
			result.AuthorizedAt = &at
		} else {
			c.log.Warn("Unparseable authorization time", "access_code", accessCode, "value", entry.AuthorizedAt)
		}
		return result, nil
	}

	latest := resp.Authorizations[len(resp.Authorizations)-1]
	result.Reasons = reasons(latest.Messages)

	switch latest.State {
	case authorizationDenied:
		result.Status = authority.StatusRejected
		c.log.Warn("Document not authorized",
			"access_code", accessCode,
			"environment", env.String(),
			"reasons", result.Reasons,
		)
		return result, &authority.RejectedError{Stage: document.StageAuthorize, Reasons: result.Reasons}
	case authorizationProcessing:
		return result, nil
	default:
		c.log.Warn("Unknown authorization state, treating as pending", "access_code", accessCode, "state", latest.State)
		return result, nil
	}
}

// call posts a SOAP payload through the limiter and the breaker. Every failure it returns
// is transient.
func (c *Client) call(ctx context.Context, op, url, accessCode string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = tracedhttp.WithCallInfo(ctx, tracedhttp.CallInfo{Operation: op, AccessCode: accessCode})

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &authority.TransientSubmissionError{Op: op, Err: fmt.Errorf("acquire request slot: %w", err)}
	}
	defer c.limiter.Release()

	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", "")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Faults arrive with status 500 and a readable body.
			if resp.StatusCode == http.StatusInternalServerError && bytes.Contains(body, []byte("Fault")) {
				return nil
			}
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			c.log.Warn("Authority circuit breaker open, skipping call", "operation", op, "access_code", accessCode)
		}
		return nil, &authority.TransientSubmissionError{Op: op, Err: err}
	}
	return body, nil
}

func (c *Client) endpoints(env document.Environment) Endpoints {
	if env == document.EnvironmentProduction {
		return c.cfg.Production
	}
	return c.cfg.Test
}

// BreakerState exposes the breaker position for health reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// Check implements health.Checker: it fails while the breaker is open.
func (c *Client) Check(ctx context.Context) error {
	if state := c.breaker.State(); state == BreakerOpen {
		return fmt.Errorf("circuit breaker %s", state)
	}
	return nil
}

// Name implements health.Checker.
func (c *Client) Name() string {
	return "authority"
}
