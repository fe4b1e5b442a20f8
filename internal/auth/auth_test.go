package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()

	authorizer, err := NewAuthorizer(Options{
		Enabled: true,
		Keys: []KeyConfig{
			{ID: "a-admin", Token: "admin-token", TenantID: "tenant-a", Role: "admin"},
			{ID: "a-dev", Token: "dev-token", TenantID: "tenant-a"},
			{ID: "b-viewer", TokenHash: hashToken("viewer-token"), TenantID: "tenant-b", Role: "Viewer"},
		},
	})
	if err != nil {
		t.Fatalf("NewAuthorizer() error: %v", err)
	}
	return authorizer
}

func TestNewAuthorizerValidatesOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		options Options
	}{
		{name: "enabled without keys", options: Options{Enabled: true}},
		{name: "disabled without tenant", options: Options{Enabled: false}},
		{name: "key without tenant", options: Options{Enabled: true, Keys: []KeyConfig{{ID: "k", Token: "t"}}}},
		{name: "key without token", options: Options{Enabled: true, Keys: []KeyConfig{{ID: "k", TenantID: "a"}}}},
		{
			name: "duplicate token",
			options: Options{Enabled: true, Keys: []KeyConfig{
				{ID: "k1", Token: "same", TenantID: "a"},
				{ID: "k2", TokenHash: hashToken("same"), TenantID: "b"},
			}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewAuthorizer(tt.options); err == nil {
				t.Fatalf("NewAuthorizer() error=nil, want error")
			}
		})
	}
}

func TestAuthenticateResolvesTenantAndRole(t *testing.T) {
	t.Parallel()

	authorizer := newTestAuthorizer(t)
	tests := []struct {
		token      string
		wantKey    string
		wantTenant string
		wantRole   string
		execute    bool
		manage     bool
	}{
		{token: "admin-token", wantKey: "a-admin", wantTenant: "tenant-a", wantRole: RoleAdmin, execute: true, manage: true},
		{token: "dev-token", wantKey: "a-dev", wantTenant: "tenant-a", wantRole: RoleDeveloper, execute: true},
		{token: "viewer-token", wantKey: "b-viewer", wantTenant: "tenant-b", wantRole: RoleViewer},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
		req.Header.Set("X-PromptOps-Key", tt.token)
		identity, err := authorizer.Authenticate(req)
		if err != nil {
			t.Fatalf("Authenticate(%s) error: %v", tt.token, err)
		}
		if identity.KeyID != tt.wantKey || identity.TenantID != tt.wantTenant || identity.Role != tt.wantRole {
			t.Fatalf("identity=%+v, want key=%s tenant=%s role=%s", identity, tt.wantKey, tt.wantTenant, tt.wantRole)
		}
		if !identity.HasPermission(PermissionLogsRead) {
			t.Fatalf("%s: missing logs:read", tt.wantKey)
		}
		if identity.HasPermission(PermissionPromptsExecute) != tt.execute {
			t.Fatalf("%s: prompts:execute=%v, want %v", tt.wantKey, !tt.execute, tt.execute)
		}
		if identity.HasPermission(PermissionPromptsManage) != tt.manage {
			t.Fatalf("%s: prompts:manage=%v, want %v", tt.wantKey, !tt.manage, tt.manage)
		}
	}
}

func TestAuthenticateReturnsIndependentIdentityCopy(t *testing.T) {
	t.Parallel()

	authorizer := newTestAuthorizer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("X-PromptOps-Key", "dev-token")

	first, err := authorizer.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate() first call error: %v", err)
	}
	first.TenantID = "mutated"
	first.permissions[PermissionPromptsManage] = struct{}{}

	second, err := authorizer.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate() second call error: %v", err)
	}
	if second.TenantID != "tenant-a" {
		t.Fatalf("second identity tenant=%q, want tenant-a", second.TenantID)
	}
	if second.HasPermission(PermissionPromptsManage) {
		t.Fatal("mutating one authenticated identity should not affect future authentications")
	}
}

func TestAuthenticateDisabledUsesDefaultTenant(t *testing.T) {
	t.Parallel()

	authorizer, err := NewAuthorizer(Options{DefaultTenant: "local"})
	if err != nil {
		t.Fatalf("NewAuthorizer() error: %v", err)
	}
	identity, err := authorizer.Authenticate(httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if identity.TenantID != "local" || identity.KeyID != anonymousKeyID {
		t.Fatalf("identity=%+v, want anonymous identity for local", identity)
	}
	if !identity.HasPermission(PermissionPromptsManage) {
		t.Fatal("anonymous identity should be able to manage prompts")
	}
}

func TestMiddlewareEnforcesRoutePermissions(t *testing.T) {
	t.Parallel()

	authorizer := newTestAuthorizer(t)
	var seenTenant string
	handler := Middleware(authorizer, MiddlewareOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if ok {
			seenTenant = identity.TenantID
		}
		if r.Header.Get("X-PromptOps-Key") != "" {
			t.Errorf("api key header was forwarded to the handler")
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{name: "health is public", method: http.MethodGet, path: "/api/health", wantStatus: http.StatusOK},
		{name: "preflight is public", method: http.MethodOptions, path: "/api/logs", wantStatus: http.StatusOK},
		{name: "non api path bypasses", method: http.MethodGet, path: "/", wantStatus: http.StatusOK},
		{name: "missing key", method: http.MethodGet, path: "/api/logs", wantStatus: http.StatusUnauthorized},
		{name: "invalid key", method: http.MethodGet, path: "/api/logs", token: "nope", wantStatus: http.StatusUnauthorized},
		{name: "viewer reads logs", method: http.MethodGet, path: "/api/logs/abc/artifacts/input", token: "viewer-token", wantStatus: http.StatusOK},
		{name: "viewer reads diagnostics", method: http.MethodGet, path: "/api/diagnostics/scheduler", token: "viewer-token", wantStatus: http.StatusOK},
		{name: "viewer cannot execute", method: http.MethodPost, path: "/api/projects/p/prompts/q/execute", token: "viewer-token", wantStatus: http.StatusForbidden},
		{name: "developer executes", method: http.MethodPost, path: "/api/projects/p/prompts/q/execute", token: "dev-token", wantStatus: http.StatusOK},
		{name: "developer reads stats", method: http.MethodGet, path: "/api/projects/p/prompts/q/stats", token: "dev-token", wantStatus: http.StatusOK},
		{name: "developer cannot publish", method: http.MethodPost, path: "/api/projects/p/prompts/q/versions", token: "dev-token", wantStatus: http.StatusForbidden},
		{name: "admin publishes", method: http.MethodPost, path: "/api/projects/p/prompts/q/versions", token: "admin-token", wantStatus: http.StatusOK},
		{name: "admin sets active version", method: http.MethodPut, path: "/api/projects/p/prompts/q/active-version", token: "admin-token", wantStatus: http.StatusOK},
		{name: "unmapped method denied", method: http.MethodDelete, path: "/api/projects/p", token: "admin-token", wantStatus: http.StatusForbidden},
		{name: "unmapped path denied", method: http.MethodGet, path: "/api/internal/debug", token: "admin-token", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if tt.token != "" {
			req.Header.Set("X-PromptOps-Key", tt.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.wantStatus {
			t.Fatalf("%s: status=%d, want %d (body=%s)", tt.name, rec.Code, tt.wantStatus, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("X-PromptOps-Key", "viewer-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seenTenant != "tenant-b" {
		t.Fatalf("handler tenant=%q, want tenant-b", seenTenant)
	}
}

func TestMiddlewareUnauthorizedBody(t *testing.T) {
	t.Parallel()

	handler := Middleware(newTestAuthorizer(t), MiddlewareOptions{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content-type=%q, want application/json", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	if body["error"] != "missing or invalid api key" {
		t.Fatalf("error=%q, want missing or invalid api key", body["error"])
	}
}

func TestMiddlewareEmitsAuditEventOnPermissionDenied(t *testing.T) {
	t.Parallel()

	var seen AuditEvent
	var called bool
	handler := Middleware(newTestAuthorizer(t), MiddlewareOptions{
		AuditRecorder: func(_ *http.Request, event AuditEvent) {
			called = true
			seen = event
		},
	}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/api/projects/p/prompts/q/status", nil)
	req.Header.Set("X-PromptOps-Key", "viewer-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusForbidden)
	}
	if !called {
		t.Fatal("expected audit recorder to be called")
	}
	if seen.Outcome != "deny" || seen.Reason != "permission_denied" {
		t.Fatalf("audit outcome/reason=%q/%q", seen.Outcome, seen.Reason)
	}
	if seen.RequiredPermission != PermissionPromptsManage || seen.Resource != "prompts" {
		t.Fatalf("audit resource/permission=%q/%q", seen.Resource, seen.RequiredPermission)
	}
	if seen.KeyID != "b-viewer" || seen.TenantID != "tenant-b" {
		t.Fatalf("audit actor=%+v", seen)
	}
}

func TestMiddlewareDisabledInjectsDefaultIdentity(t *testing.T) {
	t.Parallel()

	authorizer, err := NewAuthorizer(Options{DefaultTenant: "local"})
	if err != nil {
		t.Fatalf("NewAuthorizer() error: %v", err)
	}
	var tenant string
	handler := Middleware(authorizer, MiddlewareOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := IdentityFromContext(r.Context()); ok {
			tenant = identity.TenantID
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/projects", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	if tenant != "local" {
		t.Fatalf("tenant=%q, want local", tenant)
	}
}

func TestHashTokenMatchesConfiguredHash(t *testing.T) {
	t.Parallel()

	authorizer, err := NewAuthorizer(Options{
		Enabled: true,
		Keys:    []KeyConfig{{ID: "k", TokenHash: HashToken(" secret "), TenantID: "a"}},
	})
	if err != nil {
		t.Fatalf("NewAuthorizer() error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("x-promptops-key", "secret")
	if _, err := authorizer.Authenticate(req); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
}

func TestWithIdentityHandlesNilContext(t *testing.T) {
	t.Parallel()

	identity := &Identity{KeyID: "key-1"}
	ctx := WithIdentity(nil, identity)
	if ctx == nil {
		t.Fatal("WithIdentity(nil, identity) returned nil context")
	}
	got, ok := IdentityFromContext(ctx)
	if !ok || got.KeyID != identity.KeyID {
		t.Fatalf("IdentityFromContext()=%v,%v, want key-1", got, ok)
	}

	if _, ok := IdentityFromContext(WithIdentity(nil, nil)); ok {
		t.Fatal("IdentityFromContext() should be empty")
	}
}
