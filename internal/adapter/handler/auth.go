package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/usecase"
	"iam-gateway/middleware"

	"github.com/labstack/echo/v4"
)

// AuthConfig holds the redirect targets of browser flows.
type AuthConfig struct {
	HomeURL  string
	LoginURL string
}

// AuthHandler serves the token lifecycle endpoints.
type AuthHandler struct {
	lc     *usecase.Lifecycle
	csrf   domain.CSRFTokenGenerator
	cfg    AuthConfig
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler. csrf may be nil when CSRF
// protection is disabled.
func NewAuthHandler(lc *usecase.Lifecycle, csrf domain.CSRFTokenGenerator, cfg AuthConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{lc: lc, csrf: csrf, cfg: cfg, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Remember bool   `json:"remember" form:"remember"`
}

type sendOTPRequest struct {
	Phone   string `json:"phone" form:"phone"`
	Purpose string `json:"purpose" form:"purpose"`
}

type phoneLoginRequest struct {
	Phone      string `json:"phone" form:"phone"`
	OTP        string `json:"otp" form:"otp"`
	DeviceName string `json:"device_name" form:"device_name"`
	Remember   bool   `json:"remember" form:"remember"`
}

type phoneRequest struct {
	Phone string `json:"phone" form:"phone"`
	OTP   string `json:"otp" form:"otp"`
}

type permissionRequest struct {
	Permission string `json:"permission" form:"permission"`
}

type roleRequest struct {
	Role string `json:"role" form:"role"`
}

type userView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	PositionID   string   `json:"position_id,omitempty"`
	Status       string   `json:"status"`
	Roles        []string `json:"roles"`
}

func newUserView(i *domain.Identity) userView {
	return userView{
		ID:           i.PrimaryKey(),
		Name:         i.Name,
		Email:        i.Email,
		Phone:        i.Phone,
		DepartmentID: i.DepartmentID,
		PositionID:   i.PositionID,
		Status:       i.Status,
		Roles:        orEmpty(i.Roles),
	}
}

type loginResponse struct {
	User        userView `json:"user"`
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
	CSRFToken   string   `json:"csrf_token,omitempty"`
}

type meResponse struct {
	User        userView `json:"user"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /login.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	session := middleware.SessionFrom(c)
	res, err := h.lc.Login(c.Request().Context(), middleware.GuardFrom(c), session, req.Email, req.Password, req.Remember)
	if err != nil {
		return mapDomainError(err)
	}
	h.logger.InfoContext(c.Request().Context(), "user logged in", "user_id", res.Identity.PrimaryKey(), "method", "password")
	return h.loggedIn(c, session, res)
}

// SendOTP handles POST /auth/send-otp.
func (h *AuthHandler) SendOTP(c echo.Context) error {
	var req sendOTPRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	res, err := h.lc.SendOTP(c.Request().Context(), req.Phone, req.Purpose)
	if err != nil {
		return remoteFailure(err, "phone", "Failed to send OTP")
	}
	return c.JSON(http.StatusOK, res)
}

// LoginWithPhone handles POST /auth/login-with-phone.
func (h *AuthHandler) LoginWithPhone(c echo.Context) error {
	var req phoneLoginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	session := middleware.SessionFrom(c)
	res, err := h.lc.LoginWithPhone(c.Request().Context(), middleware.GuardFrom(c), session, req.Phone, req.OTP, req.DeviceName, req.Remember)
	if err != nil {
		return mapDomainError(err)
	}
	h.logger.InfoContext(c.Request().Context(), "user logged in", "user_id", res.Identity.PrimaryKey(), "method", "phone")
	return h.loggedIn(c, session, res)
}

// loggedIn finishes a login. The session is rotated now so the CSRF token in
// the response is bound to the identifier the browser will hold.
func (h *AuthHandler) loggedIn(c echo.Context, session *domain.Session, res *usecase.LoginResult) error {
	middleware.RotateSession(session)

	if !middleware.WantsJSON(c) {
		target := session.Pull(domain.IntendedURLKey)
		if target == "" {
			target = h.cfg.HomeURL
		}
		return c.Redirect(http.StatusFound, target)
	}

	resp := loginResponse{
		User:        newUserView(res.Identity),
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Permissions: orEmpty(res.Identity.Permissions),
		Roles:       orEmpty(res.Identity.Roles),
	}
	if h.csrf != nil {
		token, err := h.csrf.Generate(session.ID())
		if err != nil {
			return mapDomainError(err)
		}
		resp.CSRFToken = token
	}
	return c.JSON(http.StatusOK, resp)
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c echo.Context) error {
	identity, err := h.lc.Me(c.Request().Context(), middleware.GuardFrom(c))
	if err != nil {
		return mapDomainError(err)
	}

	perms, roles := identity.Permissions, identity.Roles
	if s := middleware.SessionFrom(c); s != nil {
		if len(s.Permissions()) > 0 {
			perms = s.Permissions()
		}
		if len(s.Roles()) > 0 {
			roles = s.Roles()
		}
	}
	return c.JSON(http.StatusOK, meResponse{
		User:        newUserView(identity),
		Permissions: orEmpty(perms),
		Roles:       orEmpty(roles),
	})
}

// CheckPermission handles POST /auth/check-permission.
func (h *AuthHandler) CheckPermission(c echo.Context) error {
	var req permissionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	ok, err := h.lc.CheckPermission(c.Request().Context(), middleware.GuardFrom(c), req.Permission)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"has_permission": ok,
		"permission":     req.Permission,
	})
}

// CheckRole handles POST /auth/check-role.
func (h *AuthHandler) CheckRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	ok, err := h.lc.CheckRole(c.Request().Context(), middleware.GuardFrom(c), req.Role)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"has_role": ok,
		"role":     req.Role,
	})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c echo.Context) error {
	grant, err := h.lc.Refresh(c.Request().Context(), middleware.GuardFrom(c), middleware.SessionFrom(c))
	if err != nil {
		var re *domain.RemoteError
		if errors.As(err, &re) {
			return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "Token refresh failed"}).SetInternal(err)
		}
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, grant)
}

// Logout handles POST /logout.
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.lc.Logout(c.Request().Context(), middleware.GuardFrom(c), middleware.SessionFrom(c)); err != nil {
		return mapDomainError(err)
	}
	if !middleware.WantsJSON(c) {
		return c.Redirect(http.StatusFound, h.cfg.LoginURL)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Successfully logged out"})
}

// LogoutAll handles POST /auth/logout-all.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	if err := h.lc.LogoutAll(c.Request().Context(), middleware.GuardFrom(c), middleware.SessionFrom(c)); err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Successfully logged out from all devices"})
}

// VerifyPhone handles POST /auth/verify-phone.
func (h *AuthHandler) VerifyPhone(c echo.Context) error {
	var req phoneRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	res, err := h.lc.VerifyPhone(c.Request().Context(), middleware.GuardFrom(c), req.Phone)
	if err != nil {
		return remoteFailure(err, "phone", "Failed to verify phone")
	}
	return c.JSON(http.StatusOK, res)
}

// ConfirmPhoneVerification handles POST /auth/confirm-phone-verification.
func (h *AuthHandler) ConfirmPhoneVerification(c echo.Context) error {
	var req phoneRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	res, err := h.lc.ConfirmPhoneVerification(c.Request().Context(), middleware.GuardFrom(c), req.Phone, req.OTP)
	if err != nil {
		return remoteFailure(err, "otp", "Failed to confirm phone verification")
	}
	return c.JSON(http.StatusOK, res)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
