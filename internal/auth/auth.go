package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
)

type Permission string

const (
	PermissionPromptsExecute Permission = "prompts:execute"
	PermissionPromptsManage  Permission = "prompts:manage"
	PermissionLogsRead       Permission = "logs:read"
)

const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
)

const (
	defaultHeaderName = "X-PromptOps-Key"
	apiPrefix         = "/api"
	anonymousKeyID    = "anonymous"
)

var ErrMissingAPIKey = errors.New("missing api key")
var ErrInvalidAPIKey = errors.New("invalid api key")

type KeyConfig struct {
	ID        string
	Token     string
	TokenHash string
	TenantID  string
	Role      string
}

type Options struct {
	Enabled bool
	Header  string
	Keys    []KeyConfig
	// DefaultTenant is the tenant every request acts on when auth is
	// disabled.
	DefaultTenant string
}

// Identity is the caller behind a request. TenantID is the only source of
// tenant scope for API handlers.
type Identity struct {
	KeyID    string
	TenantID string
	Role     string

	permissions map[Permission]struct{}
}

func (i *Identity) HasPermission(permission Permission) bool {
	if i == nil {
		return false
	}
	_, ok := i.permissions[permission]
	return ok
}

type Authorizer struct {
	enabled   bool
	header    string
	keys      map[string]*Identity
	anonymous *Identity
}

func NewAuthorizer(options Options) (*Authorizer, error) {
	header := normalizeHeaderName(options.Header)
	if header == "" {
		header = defaultHeaderName
	}

	authorizer := &Authorizer{
		enabled: options.Enabled,
		header:  header,
		keys:    map[string]*Identity{},
	}
	if !options.Enabled {
		tenant := strings.TrimSpace(options.DefaultTenant)
		if tenant == "" {
			return nil, errors.New("auth is disabled but no default tenant is configured")
		}
		authorizer.anonymous = &Identity{
			KeyID:       anonymousKeyID,
			TenantID:    tenant,
			Role:        RoleAdmin,
			permissions: rolePermissions(RoleAdmin),
		}
		return authorizer, nil
	}
	if len(options.Keys) == 0 {
		return nil, errors.New("auth is enabled but no api keys are configured")
	}

	for _, key := range options.Keys {
		tenant := strings.TrimSpace(key.TenantID)
		if tenant == "" {
			return nil, fmt.Errorf("api key %q has no tenant", key.ID)
		}
		tokenHash := normalizeTokenHash(key.TokenHash)
		if tokenHash == "" {
			token := strings.TrimSpace(key.Token)
			if token == "" {
				return nil, errors.New("api key token cannot be empty")
			}
			tokenHash = hashToken(token)
		}
		if _, exists := authorizer.keys[tokenHash]; exists {
			return nil, errors.New("duplicate api key token in auth config")
		}

		role := strings.ToLower(strings.TrimSpace(key.Role))
		if role == "" {
			role = RoleDeveloper
		}
		authorizer.keys[tokenHash] = &Identity{
			KeyID:       strings.TrimSpace(key.ID),
			TenantID:    tenant,
			Role:        role,
			permissions: rolePermissions(role),
		}
	}

	return authorizer, nil
}

func (a *Authorizer) Enabled() bool {
	return a != nil && a.enabled
}

func (a *Authorizer) HeaderName() string {
	if a == nil || strings.TrimSpace(a.header) == "" {
		return defaultHeaderName
	}
	return a.header
}

// Authenticate resolves the caller. With auth disabled it returns the
// anonymous admin of the default tenant.
func (a *Authorizer) Authenticate(r *http.Request) (*Identity, error) {
	if a == nil {
		return nil, ErrInvalidAPIKey
	}
	if !a.enabled {
		return a.anonymous.clone(), nil
	}

	token := strings.TrimSpace(r.Header.Get(a.HeaderName()))
	if token == "" {
		return nil, ErrMissingAPIKey
	}

	identity, ok := a.keys[hashToken(token)]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return identity.clone(), nil
}

type AuditRecorder func(r *http.Request, event AuditEvent)

type AuditEvent struct {
	Outcome            string
	Reason             string
	StatusCode         int
	Path               string
	Resource           string
	RequiredPermission Permission
	KeyID              string
	TenantID           string
}

type MiddlewareOptions struct {
	AuditRecorder AuditRecorder
}

// Middleware authenticates every /api request except health and preflight,
// then checks the permission the route needs. Unmapped API routes are
// denied.
func Middleware(authorizer *Authorizer, options MiddlewareOptions, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := requiredAccess(r.Method, r.URL.Path)
		if decision.mode == accessModeBypass {
			next.ServeHTTP(w, r)
			return
		}
		recordDeny := func(statusCode int, reason string, identity *Identity) {
			if options.AuditRecorder == nil {
				return
			}
			event := AuditEvent{
				Outcome:            "deny",
				Reason:             reason,
				StatusCode:         statusCode,
				Path:               r.URL.Path,
				Resource:           decision.resource,
				RequiredPermission: decision.permission,
			}
			if identity != nil {
				event.KeyID = identity.KeyID
				event.TenantID = identity.TenantID
			}
			options.AuditRecorder(r, event)
		}
		if decision.mode == accessModeDeny {
			recordDeny(http.StatusForbidden, "action_unmapped", nil)
			writeAuthError(w, http.StatusForbidden, "request is not allowed")
			return
		}
		if authorizer == nil {
			recordDeny(http.StatusServiceUnavailable, "verification_unavailable", nil)
			writeAuthError(w, http.StatusServiceUnavailable, "api key verification unavailable")
			return
		}

		identity, err := authorizer.Authenticate(r)
		if err != nil {
			reason := "invalid_api_key"
			if errors.Is(err, ErrMissingAPIKey) {
				reason = "missing_api_key"
			}
			recordDeny(http.StatusUnauthorized, reason, nil)
			writeAuthError(w, http.StatusUnauthorized, "missing or invalid api key")
			return
		}
		if !identity.HasPermission(decision.permission) {
			recordDeny(http.StatusForbidden, "permission_denied", identity)
			writeAuthError(w, http.StatusForbidden, "api key does not have required permission")
			return
		}

		request := r.Clone(WithIdentity(r.Context(), identity))
		request.Header = r.Header.Clone()
		request.Header.Del(authorizer.HeaderName())
		next.ServeHTTP(w, request)
	})
}

type accessMode int

const (
	accessModeBypass accessMode = iota
	accessModeRequirePermission
	accessModeDeny
)

type accessDecision struct {
	mode       accessMode
	resource   string
	permission Permission
}

func requiredAccess(method, path string) accessDecision {
	method = strings.ToUpper(strings.TrimSpace(method))
	if !hasPathPrefix(path, apiPrefix) || method == http.MethodOptions {
		return accessDecision{mode: accessModeBypass}
	}

	segments := pathSegments(strings.TrimPrefix(path, apiPrefix))
	read := method == http.MethodGet || method == http.MethodHead
	require := func(resource string, permission Permission) accessDecision {
		return accessDecision{mode: accessModeRequirePermission, resource: resource, permission: permission}
	}

	switch {
	case len(segments) == 1 && segments[0] == "health" && read:
		return accessDecision{mode: accessModeBypass}
	case len(segments) > 0 && segments[0] == "logs" && read:
		return require("logs", PermissionLogsRead)
	case len(segments) == 2 && segments[0] == "diagnostics" && read:
		return require("diagnostics", PermissionLogsRead)
	case len(segments) > 0 && segments[0] == "projects":
		switch {
		case len(segments) == 5 && segments[2] == "prompts" && segments[4] == "execute" && method == http.MethodPost:
			return require("executions", PermissionPromptsExecute)
		case read:
			return require("prompts", PermissionLogsRead)
		case method == http.MethodPost || method == http.MethodPut:
			return require("prompts", PermissionPromptsManage)
		}
	}
	return accessDecision{mode: accessModeDeny, resource: "api"}
}

func rolePermissions(role string) map[Permission]struct{} {
	var granted []Permission
	switch role {
	case RoleAdmin:
		granted = []Permission{PermissionPromptsExecute, PermissionPromptsManage, PermissionLogsRead}
	case RoleDeveloper:
		granted = []Permission{PermissionPromptsExecute, PermissionLogsRead}
	case RoleViewer:
		granted = []Permission{PermissionLogsRead}
	}
	permissions := make(map[Permission]struct{}, len(granted))
	for _, permission := range granted {
		permissions[permission] = struct{}{}
	}
	return permissions
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func normalizeHeaderName(header string) string {
	value := strings.TrimSpace(header)
	if value == "" {
		return ""
	}
	return textproto.CanonicalMIMEHeaderKey(value)
}

// HashToken returns the hex sha256 of token, the form stored in
// auth.keys[].token_hash.
func HashToken(token string) string {
	return hashToken(strings.TrimSpace(token))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeTokenHash(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if len(i.permissions) > 0 {
		out.permissions = make(map[Permission]struct{}, len(i.permissions))
		for permission := range i.permissions {
			out.permissions[permission] = struct{}{}
		}
	}
	return &out
}

type contextIdentityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, contextIdentityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(contextIdentityKey{}).(*Identity)
	return identity, ok && identity != nil
}
