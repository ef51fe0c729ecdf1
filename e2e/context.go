package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestContext carries per-scenario state for the feature suite. It talks to a
// running server over HTTP and mints its own access tokens with the server's
// signing key.
type TestContext struct {
	BaseURL    string
	HTTPClient *http.Client

	signingKey string
	issuer     string

	runID       string
	actor       string
	role        string
	saved       map[string]string
	lastStatus  int
	lastBody    []byte
	lastHeaders http.Header
}

func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(getEnv("E2E_BASE_URL", "http://localhost:8080"), "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		signingKey: getEnv("E2E_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		issuer:     getEnv("E2E_JWT_ISSUER", "bizportal"),
	}
}

// Reset starts a new scenario. Subjects and industry scopes are suffixed
// with a fresh run id so scenarios never collide on a shared server.
func (tc *TestContext) Reset() {
	tc.runID = uuid.NewString()[:8]
	tc.actor = ""
	tc.role = ""
	tc.saved = make(map[string]string)
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastHeaders = nil
}

func (tc *TestContext) RunID() string { return tc.runID }

// Subject is the token subject used for alias in this scenario.
func (tc *TestContext) Subject(alias string) string {
	return alias + "-" + tc.runID
}

func (tc *TestContext) SetActor(alias, role string) {
	tc.actor = alias
	tc.role = role
}

func (tc *TestContext) ClearActor() {
	tc.actor = ""
	tc.role = ""
}

func (tc *TestContext) Token(alias, role string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, struct {
		Role string `json:"role"`
		jwt.RegisteredClaims
	}{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tc.Subject(alias),
			Issuer:    tc.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString([]byte(tc.signingKey))
}

// Request sends as the current actor. With no actor set the request is
// anonymous.
func (tc *TestContext) Request(method, path string, body any) error {
	if tc.actor == "" {
		return tc.RequestAs("", "", method, path, body)
	}
	return tc.RequestAs(tc.actor, tc.role, method, path, body)
}

// RequestAs sends one request as alias and records the response. A string
// body is sent verbatim; anything else is JSON encoded.
func (tc *TestContext) RequestAs(alias, role, method, path string, body any) error {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(tc.Expand(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, tc.BaseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if alias != "" {
		token, err := tc.Token(alias, role)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

func (tc *TestContext) LastStatus() int { return tc.lastStatus }

func (tc *TestContext) LastBody() []byte { return tc.lastBody }

func (tc *TestContext) LastHeader(key string) string {
	if tc.lastHeaders == nil {
		return ""
	}
	return tc.lastHeaders.Get(key)
}

// ResponseField looks up a dotted path such as "group.id" or "versions.0.id"
// in the last JSON response.
func (tc *TestContext) ResponseField(path string) (string, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return "", fmt.Errorf("response is not JSON: %w (%s)", err, tc.lastBody)
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return "", fmt.Errorf("field %q missing in %s", path, tc.lastBody)
			}
			cur = v
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("index %q out of range for %q", part, path)
			}
			cur = node[idx]
		default:
			return "", fmt.Errorf("field %q not found in %s", path, tc.lastBody)
		}
	}
	if cur == nil {
		return "", nil
	}
	return fmt.Sprint(cur), nil
}

func (tc *TestContext) Save(name, value string) {
	tc.saved[name] = value
}

func (tc *TestContext) Saved(name string) (string, error) {
	v, ok := tc.saved[name]
	if !ok {
		return "", fmt.Errorf("nothing saved as %q", name)
	}
	return v, nil
}

// Expand substitutes {run} and {name} placeholders for saved values.
func (tc *TestContext) Expand(s string) string {
	s = strings.ReplaceAll(s, "{run}", tc.runID)
	for name, value := range tc.saved {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
