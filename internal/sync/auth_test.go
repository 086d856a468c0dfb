package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/config"
)

func TestSignature_CoversEveryPart(t *testing.T) {
	base := Signature("secret", "POST", "/graphql", "", "20240102T030405Z", []byte(`{"a":1}`))
	assert.Len(t, base, 64)
	assert.Equal(t, base, Signature("secret", "POST", "/graphql", "", "20240102T030405Z", []byte(`{"a":1}`)))

	assert.NotEqual(t, base, Signature("other", "POST", "/graphql", "", "20240102T030405Z", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, Signature("secret", "GET", "/graphql", "", "20240102T030405Z", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, Signature("secret", "POST", "/graphql", "x=1", "20240102T030405Z", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, Signature("secret", "POST", "/graphql", "", "20240102T030406Z", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, Signature("secret", "POST", "/graphql", "", "20240102T030405Z", []byte(`{"a":2}`)))
}

func TestIAMSigner_RoundTrip(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	signer := IAMSigner{AccessKeyID: "AKID", SecretAccessKey: "s3cr3t", Now: func() time.Time { return fixed }}

	body := []byte(`{"operationName":"ListTodos"}`)
	req := httptest.NewRequest(http.MethodPost, "http://example.com/graphql?x=1", nil)
	require.NoError(t, signer.Sign(req, body))

	assert.Equal(t, "20240102T030405Z", req.Header.Get(HeaderDate))
	cred, sig, err := ParseAuthorization(req.Header.Get("Authorization"))
	require.NoError(t, err)
	assert.Equal(t, "AKID", cred)
	assert.Equal(t, Signature("s3cr3t", http.MethodPost, "/graphql", "x=1", "20240102T030405Z", body), sig)
}

func TestParseAuthorization_Rejects(t *testing.T) {
	for _, header := range []string{
		"",
		"Bearer abc",
		SignatureScheme + " Credential=AKID",
		SignatureScheme + " Signature=abc",
	} {
		_, _, err := ParseAuthorization(header)
		assert.Error(t, err, header)
	}
}

func TestSigners_RequireCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Error(t, APIKeySigner{}.Sign(req, nil))
	assert.Error(t, TokenSigner{}.Sign(req, nil))
	assert.Error(t, IAMSigner{AccessKeyID: "id"}.Sign(req, nil))

	require.NoError(t, APIKeySigner{Key: "k"}.Sign(req, nil))
	assert.Equal(t, "k", req.Header.Get(HeaderAPIKey))
	require.NoError(t, TokenSigner{Token: "t"}.Sign(req, nil))
	assert.Equal(t, "Bearer t", req.Header.Get("Authorization"))
}

func TestNewSigner_Modes(t *testing.T) {
	ctx := context.Background()

	s, err := NewSigner(ctx, config.APIConfig{AuthMode: config.AuthAPIKey, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, APIKeySigner{Key: "k"}, s)

	s, err = NewSigner(ctx, config.APIConfig{AuthMode: config.AuthIAM, AccessKeyID: "id", SecretAccessKey: "sec"}, nil)
	require.NoError(t, err)
	assert.IsType(t, IAMSigner{}, s)

	s, err = NewSigner(ctx, config.APIConfig{AuthMode: config.AuthUserPool, Token: "tok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, TokenSigner{Token: "tok"}, s)

	_, err = NewSigner(ctx, config.APIConfig{AuthMode: config.AuthUserPool}, nil)
	assert.Error(t, err)
	_, err = NewSigner(ctx, config.APIConfig{AuthMode: "kerberos"}, nil)
	assert.Error(t, err)
}

func TestNewSigner_UserPoolLogsIn(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "ada" || body["password"] != "correct horse" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(LoginResult{Token: "session-token", UserID: "u1"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, nil, nil)
	s, err := NewSigner(context.Background(), config.APIConfig{
		AuthMode: config.AuthUserPool,
		Username: "ada",
		Password: "correct horse",
	}, client)
	require.NoError(t, err)
	assert.Equal(t, TokenSigner{Token: "session-token"}, s)

	_, err = NewSigner(context.Background(), config.APIConfig{
		AuthMode: config.AuthUserPool,
		Username: "ada",
		Password: "wrong",
	}, client)
	assert.Error(t, err)
}
