package handler

import "github.com/labstack/echo/v4"

// Handlers groups the HTTP handlers of the gateway.
type Handlers struct {
	Auth     *AuthHandler
	Validate *ValidateHandler
	CSRF     *CSRFHandler
	Health   *HealthHandler
	Internal *InternalHandler
}

// RouteMiddleware holds the per-route middleware. Nil entries are skipped.
type RouteMiddleware struct {
	Authenticated echo.MiddlewareFunc
	Guest         echo.MiddlewareFunc
	InternalAuth  echo.MiddlewareFunc

	LoginLimit    echo.MiddlewareFunc
	OTPLimit      echo.MiddlewareFunc
	CheckLimit    echo.MiddlewareFunc
	InternalLimit echo.MiddlewareFunc
}

// Register mounts all gateway routes on e.
func Register(e *echo.Echo, h Handlers, mw RouteMiddleware) {
	e.GET("/health", h.Health.Handle)
	if h.CSRF != nil {
		e.GET("/csrf", h.CSRF.Handle)
	}

	// Guest flows
	e.POST("/login", h.Auth.Login, use(mw.LoginLimit, mw.Guest)...)
	e.POST("/auth/send-otp", h.Auth.SendOTP, use(mw.OTPLimit, mw.Guest)...)
	e.POST("/auth/login-with-phone", h.Auth.LoginWithPhone, use(mw.LoginLimit, mw.Guest)...)

	// Authenticated flows
	authed := func(extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
		return use(append([]echo.MiddlewareFunc{mw.Authenticated}, extra...)...)
	}
	e.GET("/auth/me", h.Auth.Me, authed()...)
	e.POST("/auth/check-permission", h.Auth.CheckPermission, authed(mw.CheckLimit)...)
	e.POST("/auth/check-role", h.Auth.CheckRole, authed(mw.CheckLimit)...)
	e.POST("/auth/refresh", h.Auth.Refresh, authed()...)
	e.POST("/logout", h.Auth.Logout, authed()...)
	e.POST("/auth/logout-all", h.Auth.LogoutAll, authed()...)
	e.POST("/auth/verify-phone", h.Auth.VerifyPhone, authed(mw.OTPLimit)...)
	e.POST("/auth/confirm-phone-verification", h.Auth.ConfirmPhoneVerification, authed(mw.OTPLimit)...)
	e.GET("/validate", h.Validate.Handle, authed(mw.CheckLimit)...)

	// Internal routes (protected by shared secret)
	internal := e.Group("/internal", use(mw.InternalLimit, mw.InternalAuth)...)
	internal.POST("/cache/invalidate", h.Internal.HandleInvalidate)
}

func use(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
