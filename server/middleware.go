package server

import (
	"bytes"
	"crypto/hmac"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/existflow/todosync/internal/model"
	tsync "github.com/existflow/todosync/internal/sync"
)

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorResponse(&model.RemoteError{Type: model.ErrorTypeUnauthorized, Message: msg}))
}

// authMiddleware checks the credential of the configured authorization mode
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var err error
		switch s.cfg.AuthMode {
		case AuthAPIKey:
			err = s.checkAPIKey(c)
		case AuthIAM:
			err = s.checkSignature(c)
		case AuthUserPool:
			err = s.checkSession(c)
		default:
			err = fmt.Errorf("authorization mode %q is not supported", s.cfg.AuthMode)
		}
		if err != nil {
			return unauthorized(c, err.Error())
		}
		return next(c)
	}
}

func (s *Server) checkAPIKey(c echo.Context) error {
	key := c.Request().Header.Get(tsync.HeaderAPIKey)
	if key == "" {
		return fmt.Errorf("api key required")
	}
	for _, k := range s.cfg.APIKeys {
		if hmac.Equal([]byte(k), []byte(key)) {
			return nil
		}
	}
	return fmt.Errorf("invalid api key")
}

func (s *Server) checkSignature(c echo.Context) error {
	req := c.Request()
	credential, signature, err := tsync.ParseAuthorization(req.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	secret, ok := s.cfg.IAMCredentials[credential]
	if !ok {
		return fmt.Errorf("unknown credential")
	}

	date := req.Header.Get(tsync.HeaderDate)
	signedAt, err := time.Parse(tsync.DateFormat, date)
	if err != nil {
		return fmt.Errorf("invalid %s header", tsync.HeaderDate)
	}
	if skew := time.Since(signedAt); skew > s.cfg.ClockSkew || skew < -s.cfg.ClockSkew {
		return fmt.Errorf("request signature expired")
	}

	// Read the body for the hash and hand an identical copy to the handler
	var body []byte
	if req.Body != nil {
		if body, err = io.ReadAll(req.Body); err != nil {
			return fmt.Errorf("failed to read body")
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	want := tsync.Signature(secret, req.Method, req.URL.Path, req.URL.RawQuery, date, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	c.Set("credential", credential)
	return nil
}

// checkSession validates a user-pool bearer token
func (s *Server) checkSession(c echo.Context) error {
	auth := c.Request().Header.Get("Authorization")
	if auth == "" {
		return fmt.Errorf("authorization required")
	}

	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return fmt.Errorf("invalid authorization format")
	}

	session, err := s.store.GetSession(c.Request().Context(), token)
	if err != nil {
		return fmt.Errorf("invalid token")
	}

	if session.IsExpired() {
		return fmt.Errorf("token expired")
	}

	// Add user ID to context
	c.Set("user_id", session.UserID)
	return nil
}
