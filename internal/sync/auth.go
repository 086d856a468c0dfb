package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/existflow/todosync/internal/config"
)

// Signer adds credentials to an outgoing request
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// Header names and constants used by request signing
const (
	HeaderAPIKey    = "x-api-key"
	HeaderDate      = "X-Ts-Date"
	SignatureScheme = "TSIG-HMAC-SHA256"
	DateFormat      = "20060102T150405Z"
)

// APIKeySigner sends a static API key
type APIKeySigner struct {
	Key string
}

func (s APIKeySigner) Sign(req *http.Request, _ []byte) error {
	if s.Key == "" {
		return fmt.Errorf("api key is empty")
	}
	req.Header.Set(HeaderAPIKey, s.Key)
	return nil
}

// TokenSigner sends a user-pool session token
type TokenSigner struct {
	Token string
}

func (s TokenSigner) Sign(req *http.Request, _ []byte) error {
	if s.Token == "" {
		return fmt.Errorf("not logged in")
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	return nil
}

// IAMSigner signs every request with an access key pair
type IAMSigner struct {
	AccessKeyID     string
	SecretAccessKey string
	Now             func() time.Time
}

func (s IAMSigner) Sign(req *http.Request, body []byte) error {
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return fmt.Errorf("iam credentials are incomplete")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	date := now().UTC().Format(DateFormat)

	sig := Signature(s.SecretAccessKey, req.Method, req.URL.Path, req.URL.RawQuery, date, body)
	req.Header.Set(HeaderDate, date)
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s, Signature=%s", SignatureScheme, s.AccessKeyID, sig))
	return nil
}

// CanonicalRequest is the string an IAM signature covers
func CanonicalRequest(method, path, query, date string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{method, path, query, date, hex.EncodeToString(sum[:])}, "\n")
}

// Signature returns the hex HMAC-SHA256 of the canonical request
func Signature(secret, method, path, query, date string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalRequest(method, path, query, date, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseAuthorization splits a TSIG authorization header into its credential
// and signature.
func ParseAuthorization(header string) (credential, signature string, err error) {
	rest, ok := strings.CutPrefix(header, SignatureScheme+" ")
	if !ok {
		return "", "", fmt.Errorf("unsupported authorization scheme")
	}
	for _, part := range strings.Split(rest, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "Credential":
			credential = value
		case "Signature":
			signature = value
		}
	}
	if credential == "" || signature == "" {
		return "", "", fmt.Errorf("malformed authorization header")
	}
	return credential, signature, nil
}

// NewSigner builds the signer for the configured authorization mode. In
// user-pool mode without a stored token it logs in with the configured
// username and password.
func NewSigner(ctx context.Context, cfg config.APIConfig, client *Client) (Signer, error) {
	switch cfg.AuthMode {
	case config.AuthAPIKey, "":
		return APIKeySigner{Key: cfg.APIKey}, nil
	case config.AuthIAM:
		return IAMSigner{AccessKeyID: cfg.AccessKeyID, SecretAccessKey: cfg.SecretAccessKey}, nil
	case config.AuthUserPool:
		if cfg.Token != "" {
			return TokenSigner{Token: cfg.Token}, nil
		}
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("user_pool mode needs a token or a username and password")
		}
		result, err := client.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to log in: %w", err)
		}
		return TokenSigner{Token: result.Token}, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
}
