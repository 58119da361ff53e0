package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/middleware"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(middleware.GetClientFromContext(r.Context())))
})

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	keys := map[string]string{"ci": "key-ci", "dashboard": "key-dash"}

	tests := map[string]struct {
		keys   map[string]string
		path   string
		header string

		wantCode   int
		wantClient string
	}{
		"Bearer key":             {keys: keys, path: "/v1/analyses", header: "Bearer key-ci", wantCode: 200, wantClient: "ci"},
		"Raw key":                {keys: keys, path: "/v1/analyses", header: "key-dash", wantCode: 200, wantClient: "dashboard"},
		"Public path skips auth": {keys: keys, path: "/health", wantCode: 200},
		"No keys configured":     {path: "/v1/analyses", wantCode: 200},
		"Missing header":         {keys: keys, path: "/v1/analyses", wantCode: 401},
		"Empty bearer":           {keys: keys, path: "/v1/analyses", header: "Bearer ", wantCode: 401},
		"Unknown key":            {keys: keys, path: "/v1/analyses", header: "Bearer nope", wantCode: 401},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			middleware.APIKeyAuth(tc.keys)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tc.wantCode, rec.Code)
			if tc.wantCode == 200 {
				assert.Equal(t, tc.wantClient, rec.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	rl := middleware.NewRateLimiter(1, 2)
	h := rl.Middleware(ok)

	do := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, 200, do("/v1/analyses", "10.0.0.1"))
	assert.Equal(t, 200, do("/v1/analyses", "10.0.0.1"))
	assert.Equal(t, 429, do("/v1/analyses", "10.0.0.1"), "burst exhausted")
	assert.Equal(t, 200, do("/v1/analyses", "10.0.0.2"), "limits are per client")
	assert.Equal(t, 200, do("/health", "10.0.0.1"), "public paths are not limited")
}

func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestReadUpload(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		req func(t *testing.T) *http.Request

		wantData     string
		wantFilename string
		wantNil      bool
		wantErr      bool
		wantTooLarge bool
	}{
		"Multipart file": {
			req:      func(t *testing.T) *http.Request { return multipartRequest(t, "file", "stack.yaml", []byte("Resources: {}")) },
			wantData: "Resources: {}", wantFilename: "stack.yaml",
		},
		"Multipart filename is sanitised": {
			req:      func(t *testing.T) *http.Request { return multipartRequest(t, "file", "..\\..\\main.tf", []byte("x")) },
			wantData: "x", wantFilename: "main.tf",
		},
		"Multipart without file field": {
			req:     func(t *testing.T) *http.Request { return multipartRequest(t, "other", "a.yaml", []byte("x")) },
			wantNil: true,
		},
		"Raw body": {
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/analyses?filename=api.json", strings.NewReader(`{"openapi":"3.0.0"}`))
			},
			wantData: `{"openapi":"3.0.0"}`, wantFilename: "api.json",
		},
		"Empty raw body": {
			req:     func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodPost, "/v1/analyses", nil) },
			wantNil: true,
		},

		"Error on binary content": {
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader([]byte{0xff, 0xfe, 0x00}))
			},
			wantErr: true,
		},
		"Error on unsupported extension": {
			req:     func(t *testing.T) *http.Request { return multipartRequest(t, "file", "payload.exe", []byte("MZ")) },
			wantErr: true,
		},
		"Error on oversized upload": {
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(strings.Repeat("a", 2048)))
			},
			wantErr: true, wantTooLarge: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			data, filename, err := middleware.ReadUpload(httptest.NewRecorder(), tc.req(t), 1024)
			if tc.wantErr {
				require.Error(t, err)
				if tc.wantTooLarge {
					assert.ErrorIs(t, err, middleware.ErrUploadTooLarge)
				}
				return
			}
			require.NoError(t, err)
			if tc.wantNil {
				assert.Empty(t, data)
				return
			}
			assert.Equal(t, tc.wantData, string(data))
			assert.Equal(t, tc.wantFilename, filename)
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stack.yaml", middleware.SanitizeFilename("/etc/stack.yaml"))
	assert.Equal(t, "main.tf", middleware.SanitizeFilename("C:\\infra\\main.tf"))
	assert.Equal(t, "ab.json", middleware.SanitizeFilename("a\x00b.json"))
	assert.Equal(t, "", middleware.SanitizeFilename(""))
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		checkers map[string]middleware.HealthChecker
		wantCode int
	}{
		"No checkers": {wantCode: 200},
		"All healthy": {
			checkers: map[string]middleware.HealthChecker{
				"exports": middleware.HealthCheckFunc(func(context.Context) error { return nil }),
			},
			wantCode: 200,
		},
		"One unhealthy": {
			checkers: map[string]middleware.HealthChecker{
				"exports": middleware.HealthCheckFunc(func(context.Context) error { return errors.New("bucket missing") }),
				"other":   middleware.HealthCheckFunc(func(context.Context) error { return nil }),
			},
			wantCode: 503,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			middleware.HealthHandler(tc.checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.wantCode, rec.Code)

			var got middleware.HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Len(t, got.Checks, len(tc.checkers))
		})
	}
}

func TestMetricsRecorder(t *testing.T) {
	t.Parallel()

	m := middleware.NewMetrics()
	m.AnalysisSucceeded([]threatmodel.CategorySummary{
		{Category: threatmodel.CategorySpoofing, Total: 3},
		{Category: threatmodel.CategoryTampering, Total: 1},
	})
	m.AnalysisFailed("invoke", &threatmodel.ModelInvocationError{Reason: threatmodel.ReasonRateLimit})
	m.AnalysisFailed("extract", &threatmodel.MalformedResponseError{Reason: "no JSON object found"})

	expected := `
# HELP tmm_model_invocation_errors_total Failed model calls by reason.
# TYPE tmm_model_invocation_errors_total counter
tmm_model_invocation_errors_total{reason="rate_limit"} 1
# HELP tmm_threats_total Threats reported by the model per STRIDE category.
# TYPE tmm_threats_total counter
tmm_threats_total{category="Spoofing"} 3
tmm_threats_total{category="Tampering"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"tmm_model_invocation_errors_total", "tmm_threats_total"))
	n, err := testutil.GatherAndCount(m.Registry(), "tmm_analyses_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	m := middleware.NewMetrics()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_requests_total{code="418",method="GET"} 1`)
}

func TestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/analyses", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "/v1/analyses", line["path"])
	assert.EqualValues(t, 502, line["status"])
}
