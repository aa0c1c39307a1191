package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/infrastructure/metrics"
	"iam-gateway/utils/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 1 << 20

// IAM operation names, used for logs, spans and metrics.
const (
	OpLogin                    = "login"
	OpVerify                   = "verify"
	OpCheckPermission          = "check_permission"
	OpCheckRole                = "check_role"
	OpRefresh                  = "refresh"
	OpLogout                   = "logout"
	OpLogoutAll                = "logout_all"
	OpSendOTP                  = "send_otp"
	OpLoginWithPhone           = "login_with_phone"
	OpVerifyPhone              = "verify_phone"
	OpConfirmPhoneVerification = "confirm_phone_verification"
)

// IAMGateway implements domain.IdentityClient over the IAM authority's HTTP API.
// Each operation is exactly one request; there are no retries.
type IAMGateway struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewIAMGateway creates a new IAM gateway with tuned HTTP transport.
func NewIAMGateway(baseURL string, timeout time.Duration, verifySSL bool, log *slog.Logger) (*IAMGateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid IAM base URL %q", domain.ErrConfiguration, baseURL)
	}
	if log == nil {
		log = slog.Default()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !verifySSL, //nolint:gosec // opt-out via IAM_VERIFY_SSL
		},
	}

	return &IAMGateway{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: log,
		tracer: otel.Tracer("iam-gateway/gateway"),
	}, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type permissionRequest struct {
	Permission string `json:"permission"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type otpRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose,omitempty"`
	OTP     string `json:"otp,omitempty"`
}

type phoneLoginRequest struct {
	Phone      string `json:"phone"`
	OTP        string `json:"otp"`
	DeviceName string `json:"device_name,omitempty"`
}

// Login authenticates with email and password.
func (g *IAMGateway) Login(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	var res domain.AuthResult
	if err := g.call(ctx, OpLogin, maskEmail(email), http.MethodPost, "auth/login", "", loginRequest{email, password}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Verify resolves the token's identity through auth/me.
func (g *IAMGateway) Verify(ctx context.Context, token string) (*domain.AuthResult, error) {
	var res domain.AuthResult
	if err := g.call(ctx, OpVerify, tokenHint(token), http.MethodGet, "auth/me", token, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckPermission asks the authority whether the token holder has permission.
func (g *IAMGateway) CheckPermission(ctx context.Context, token, permission string) (bool, error) {
	var res struct {
		HasPermission bool `json:"has_permission"`
	}
	if err := g.call(ctx, OpCheckPermission, tokenHint(token), http.MethodPost, "auth/check-permission", token, permissionRequest{permission}, &res); err != nil {
		return false, err
	}
	return res.HasPermission, nil
}

// CheckRole asks the authority whether the token holder has role.
func (g *IAMGateway) CheckRole(ctx context.Context, token, role string) (bool, error) {
	var res struct {
		HasRole bool `json:"has_role"`
	}
	if err := g.call(ctx, OpCheckRole, tokenHint(token), http.MethodPost, "auth/check-role", token, roleRequest{role}, &res); err != nil {
		return false, err
	}
	return res.HasRole, nil
}

// Refresh exchanges token for a new access token.
func (g *IAMGateway) Refresh(ctx context.Context, token string) (*domain.TokenGrant, error) {
	var res domain.TokenGrant
	if err := g.call(ctx, OpRefresh, tokenHint(token), http.MethodPost, "auth/refresh", token, nil, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		err := &domain.RemoteError{Operation: OpRefresh, StatusCode: http.StatusOK, Err: fmt.Errorf("%w: missing access_token", domain.ErrIAMMalformed)}
		g.logFailure(ctx, OpRefresh, tokenHint(token), err)
		return nil, err
	}
	return &res, nil
}

// Logout revokes token upstream.
func (g *IAMGateway) Logout(ctx context.Context, token string) error {
	return g.call(ctx, OpLogout, tokenHint(token), http.MethodPost, "auth/logout", token, nil, nil)
}

// LogoutAll revokes every token of the token holder upstream.
func (g *IAMGateway) LogoutAll(ctx context.Context, token string) error {
	return g.call(ctx, OpLogoutAll, tokenHint(token), http.MethodPost, "auth/logout-all", token, nil, nil)
}

// SendOTP provisions a one-time code for phone. A failure carries the
// upstream reason, falling back to a generic message.
func (g *IAMGateway) SendOTP(ctx context.Context, phone, purpose string) (*domain.OTPResult, error) {
	const fallback = "Failed to send OTP"
	res, err := g.otpCall(ctx, OpSendOTP, "auth/send-otp", phone, otpRequest{Phone: phone, Purpose: purpose}, fallback)
	if err != nil {
		return nil, err
	}
	// send-otp answers {success|error}; a 2xx with success=false is a refusal.
	if !res.Success {
		reason := res.Message
		if reason == "" {
			reason = fallback
		}
		err := &domain.RemoteError{Operation: OpSendOTP, StatusCode: http.StatusOK, Reason: reason, Err: domain.ErrIAMRejected}
		g.logFailure(ctx, OpSendOTP, maskPhone(phone), err)
		return nil, err
	}
	return res, nil
}

// LoginWithPhone exchanges a phone and one-time code for a token.
func (g *IAMGateway) LoginWithPhone(ctx context.Context, phone, otp, deviceName string) (*domain.AuthResult, error) {
	var res domain.AuthResult
	body := phoneLoginRequest{Phone: phone, OTP: otp, DeviceName: deviceName}
	if err := g.call(ctx, OpLoginWithPhone, maskPhone(phone), http.MethodPost, "auth/login-with-phone", "", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyPhone starts phone ownership verification.
func (g *IAMGateway) VerifyPhone(ctx context.Context, phone string) (*domain.OTPResult, error) {
	return g.otpCall(ctx, OpVerifyPhone, "auth/verify-phone", phone, otpRequest{Phone: phone}, "Failed to verify phone")
}

// ConfirmPhoneVerification completes phone ownership verification.
func (g *IAMGateway) ConfirmPhoneVerification(ctx context.Context, phone, otp string) (*domain.OTPResult, error) {
	return g.otpCall(ctx, OpConfirmPhoneVerification, "auth/confirm-phone-verification", phone, otpRequest{Phone: phone, OTP: otp}, "Failed to confirm phone verification")
}

func (g *IAMGateway) otpCall(ctx context.Context, op, path, phone string, body otpRequest, fallback string) (*domain.OTPResult, error) {
	var res domain.OTPResult
	err := g.call(ctx, op, maskPhone(phone), http.MethodPost, path, "", body, &res)
	if err != nil {
		var re *domain.RemoteError
		if errors.As(err, &re) && re.Reason == "" {
			re.Reason = fallback
		}
		return nil, err
	}
	return &res, nil
}

// call performs one round trip and decodes a 2xx body into out.
func (g *IAMGateway) call(ctx context.Context, op, subject, method, path, token string, body, out any) (err error) {
	ctx, span := g.tracer.Start(ctx, "iam."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordUpstream(op, status, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
			g.logFailure(ctx, op, subject, err)
		}
	}()

	req, err := g.newRequest(ctx, method, path, token, body)
	if err != nil {
		return &domain.RemoteError{Operation: op, Err: fmt.Errorf("%w: %w", domain.ErrIAMUnavailable, err)}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &domain.RemoteError{Operation: op, Err: fmt.Errorf("%w: %w", domain.ErrIAMUnavailable, err)}
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.RemoteError{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", domain.ErrIAMUnavailable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sentinel := domain.ErrIAMRejected
		if resp.StatusCode >= 500 {
			sentinel = domain.ErrIAMUnavailable
		}
		return &domain.RemoteError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Reason:     extractReason(payload),
			Err:        sentinel,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &domain.RemoteError{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", domain.ErrIAMMalformed, err)}
	}
	return nil
}

func (g *IAMGateway) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	target := g.baseURL.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (g *IAMGateway) logFailure(ctx context.Context, op, subject string, err error) {
	attrs := []any{
		"operation", op,
		"subject", subject,
		"error", err.Error(),
	}
	var re *domain.RemoteError
	if errors.As(err, &re) && re.StatusCode != 0 {
		attrs = append(attrs, "status", re.StatusCode)
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	g.logger.WarnContext(ctx, "IAM request failed", attrs...)
}

// upstreamError is the error body shape of the IAM authority.
type upstreamError struct {
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Errors  map[string][]string `json:"errors"`
}

// extractReason prefers a field-level message (phone first), then message.
func extractReason(payload []byte) string {
	var body upstreamError
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	if msgs := body.Errors["phone"]; len(msgs) > 0 {
		return msgs[0]
	}
	for _, field := range []string{"otp", "email"} {
		if msgs := body.Errors[field]; len(msgs) > 0 {
			return msgs[0]
		}
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}

// tokenHint identifies a token in logs without exposing it.
func tokenHint(token string) string {
	if token == "" {
		return ""
	}
	return strings.TrimPrefix(domain.Fingerprint(token), "iam_token_")[:8]
}
