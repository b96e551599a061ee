package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/trezcool/masomo-eligibility/apps/api/echo"
	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/feature"
	"github.com/trezcool/masomo-eligibility/core/grace"
	"github.com/trezcool/masomo-eligibility/core/notification"
	"github.com/trezcool/masomo-eligibility/services/email"
	"github.com/trezcool/masomo-eligibility/services/metrics"
	"github.com/trezcool/masomo-eligibility/services/notify"
	"github.com/trezcool/masomo-eligibility/storage/database/inmem"
)

const secretKey = "test-secret"

var (
	conf = &core.Config{
		AppName:          "Masomo",
		TestMode:         true,
		SecretKey:        secretKey,
		DefaultFromEmail: "noreply@masomo.dev",
		FrontendBaseURL:  "https://app.masomo.dev",
		Server:           core.ServerConfig{JWTExpirationDelta: time.Hour},
	}

	adminActor = core.Actor{ID: "admin-1", Email: "admin@masomo.dev"}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type env struct {
	app     Server
	tenants *eligibility.Service
	appeals *appeal.Service
	audit   audit.Store
	mailer  *emailsvc.ConsoleService
	metrics *metricsvc.Metrics
}

func setup(t *testing.T, rateLimit ...int) *env {
	t.Helper()

	// set up DB & repos
	db := inmemdb.Open()
	e := &env{
		audit:   inmemdb.NewAuditRepository(db),
		mailer:  emailsvc.NewConsoleService(conf, io.Discard),
		metrics: metricsvc.New(),
	}

	// set up services
	validate := core.NewValidator()
	recorder := audit.NewRecorder(e.audit, core.NopLogger, e.metrics)
	dispatcher := notification.NewDispatcher(notifysvc.NewEmailNotifier(e.mailer, conf), core.NopLogger, e.metrics)
	e.tenants = eligibility.NewService(eligibility.Deps{
		Repo:      inmemdb.NewTenantRepository(db),
		Validator: validate,
		Audit:     recorder,
		Notifier:  dispatcher,
		Metrics:   e.metrics,
		Config:    eligibility.Config{StudentThreshold: 1500, Grace: grace.DefaultConfig, BulkConcurrency: 4},
	})
	e.appeals = appeal.NewService(appeal.Deps{
		Repo:      inmemdb.NewAppealRepository(db),
		Tenants:   e.tenants,
		Validator: validate,
		Audit:     recorder,
		Notifier:  dispatcher,
	})

	limit := 0
	if len(rateLimit) > 0 {
		limit = rateLimit[0]
	}

	// set up server
	e.app = NewServer(&Options{
		DisableReqLogs:  true,
		TestMode:        true,
		SecretKey:       secretKey,
		AppealRateLimit: limit,
		MetricsHandler:  e.metrics.Handler(),
		TenantSvc:       e.tenants,
		AppealSvc:       e.appeals,
		Features:        feature.NewChecker(e.tenants, grace.DefaultConfig, nil),
		AuditStore:      e.audit,
	})
	return e
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantErr  *httpErr
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data [][]byte
	if body != nil {
		data = append(data, marchallObj(t, body))
	}
	req, rec := newAuthRequest(method, path, token, data...)
	e.app.ServeHTTP(rec, req)
	return rec
}

// call performs the request, checks the status code and decodes the response into dst.
func (e *env) call(t *testing.T, method, path, token string, body interface{}, wantCode int, dst interface{}) {
	t.Helper()
	rec := e.do(t, method, path, token, body)
	require.Equal(t, wantCode, rec.Code, rec.Body.String())
	if dst != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
	}
}

func runTests(t *testing.T, e *env, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != nil {
				var got httpErr
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				require.Equal(t, *tt.wantErr, got)
			}
		})
	}
}

func adminToken(t *testing.T) string {
	return getToken(t, NewClaims(adminActor, true, "", conf))
}

func tenantToken(t *testing.T, tenantID string) string {
	return getToken(t, NewClaims(core.Actor{ID: "owner-" + tenantID, Email: "owner@school.edu"}, false, tenantID, conf))
}

func getToken(t *testing.T, claims *Claims) string {
	token, err := GenerateToken(claims, secretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}
