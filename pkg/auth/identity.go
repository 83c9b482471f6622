// Package auth provides authentication and identity primitives for tuskd's
// local admin API.
//
// The identity model supports four types:
//   - User: A human user authenticated via JWT or other credential
//   - Service: A platform service authenticating via service account
//   - Agent: An AI agent operating on behalf of a user or system
//   - System: An internal system process (background jobs, cron, migrations)
//
// tuskd runs as a single local process with one HTTP admin surface, so there
// is no call chain to propagate across service boundaries: every request is
// validated directly against its bearer token via a [TokenValidator].
package auth

import (
	"context"
	"errors"
)

// IdentityType represents the type of authenticated identity.
// The platform distinguishes between human users, platform services,
// AI agents, and system processes, as each has different authorization
// semantics.
type IdentityType string

const (
	// IdentityTypeUser represents a human user authenticated via credentials.
	// User identities originate from external authentication providers (OAuth2,
	// OIDC, SAML) and carry user-specific claims such as email and roles.
	IdentityTypeUser IdentityType = "user"

	// IdentityTypeService represents a platform service authenticated via
	// service account credentials (e.g., Kubernetes ServiceAccount tokens,
	// mTLS certificates). Service identities are used for service-to-service
	// communication where no human user is involved.
	IdentityTypeService IdentityType = "service"

	// IdentityTypeAgent represents an AI agent operating within the platform.
	// Agent identities track which agent is performing an action, enabling
	// fine-grained authorization and audit logging for autonomous operations.
	IdentityTypeAgent IdentityType = "agent"

	// IdentityTypeSystem represents an internal system process such as a
	// background job, scheduled task, or migration. System identities are
	// not tied to a human user or external service and typically have
	// elevated privileges scoped to their specific function.
	IdentityTypeSystem IdentityType = "system"
)

// String returns the string representation of the identity type.
func (t IdentityType) String() string {
	return string(t)
}

// Valid reports whether the identity type is one of the recognized values.
func (t IdentityType) Valid() bool {
	switch t {
	case IdentityTypeUser, IdentityTypeService, IdentityTypeAgent, IdentityTypeSystem:
		return true
	default:
		return false
	}
}

// Identity represents an authenticated entity calling tuskd's admin API.
// Every request processed by the server is associated with an Identity
// that identifies who (or what) is making the request.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Identity interface {
	// ID returns the unique identifier of the identity.
	// For users, this is typically a UUID from the identity provider.
	// For services, this is the service account name.
	// For agents, this is the agent instance identifier.
	ID() string

	// Type returns the category of identity (user, service, agent, or system).
	Type() IdentityType

	// Claims returns the identity's claims as a map. Claims include
	// attributes like email, roles, scopes, and other metadata from
	// the authentication token. Implementations should return a copy
	// of the underlying claims to ensure immutability.
	Claims() map[string]any

	// HasPermission checks whether this identity is authorized to perform
	// the given action on the specified resource. The resource and action
	// strings follow the format defined by the authorization policy
	// (e.g., resource="documents", action="read").
	//
	// Implementations may check against an in-memory permission list,
	// consult an external policy engine, or delegate to an RBAC system.
	HasPermission(resource, action string) bool
}

// TokenValidator validates authentication tokens and extracts the identity
// they represent. Implementations are responsible for verifying token
// signatures, expiration, audience, and any other security requirements.
//
// This interface is used by HTTP middleware ([HTTPMiddleware]) to
// authenticate incoming requests. Consumers provide their own implementation
// that matches their authentication infrastructure (JWT, Kubernetes SA, etc.).
//
// Implementations must be safe for concurrent use by multiple goroutines.
type TokenValidator interface {
	// Validate verifies the given token string and returns the Identity
	// it represents. Returns an error if the token is invalid, expired,
	// or cannot be verified.
	//
	// The context may carry deadlines, cancellation signals, and tracing
	// information that validators should respect.
	Validate(ctx context.Context, token string) (Identity, error)
}

// BasicIdentity is a simple, immutable implementation of the Identity interface.
// [JWTValidator] returns it as the identity for validated tokens that do not
// map to a richer Identity type.
type BasicIdentity struct {
	id     string
	idType IdentityType
	claims map[string]any
}

// NewBasicIdentity creates a new BasicIdentity with the given parameters.
// The claims map is copied to prevent external mutation.
func NewBasicIdentity(id string, idType IdentityType, claims map[string]any) *BasicIdentity {
	// Deep-copy claims to ensure immutability.
	copied := make(map[string]any, len(claims))
	for k, v := range claims {
		copied[k] = v
	}
	return &BasicIdentity{
		id:     id,
		idType: idType,
		claims: copied,
	}
}

// ID returns the unique identifier of the identity.
func (b *BasicIdentity) ID() string {
	return b.id
}

// Type returns the identity type (user, service, agent, or system).
func (b *BasicIdentity) Type() IdentityType {
	return b.idType
}

// Claims returns a shallow copy of the identity's claims. Each call returns
// a new map, so callers may safely modify the result without affecting the
// identity or other callers.
func (b *BasicIdentity) Claims() map[string]any {
	copied := make(map[string]any, len(b.claims))
	for k, v := range b.claims {
		copied[k] = v
	}
	return copied
}

// HasPermission always returns false for BasicIdentity. BasicIdentity is a
// transport-level type used for deserializing identity from propagated
// headers; it does not carry permission information. Use [ServiceIdentity]
// or [UserIdentity] for authorization decisions.
func (b *BasicIdentity) HasPermission(resource, action string) bool {
	return false
}

// Permission represents an authorization grant for a specific resource and
// action. Permissions are attached to identities and checked via
// [Identity.HasPermission] to make authorization decisions.
//
// Example permissions:
//
//	Permission{Resource: "documents", Action: "read"}
//	Permission{Resource: "users", Action: "delete"}
//	Permission{Resource: "*", Action: "*"}  // wildcard â€” full access
type Permission struct {
	// Resource is the resource being accessed (e.g., "documents", "users",
	// "agents"). The wildcard "*" matches all resources.
	Resource string

	// Action is the operation being performed (e.g., "read", "write",
	// "delete", "execute"). The wildcard "*" matches all actions.
	Action string
}

// ServiceIdentity represents a platform service or agent authenticated via
// service account credentials. It carries service-specific metadata
// (service name, Kubernetes namespace) and an explicit list of permissions
// that define what the service is authorized to do.
//
// ServiceIdentity is immutable after creation.
type ServiceIdentity struct {
	id          string
	serviceName string
	namespace   string
	claims      map[string]any
	permissions []Permission
}

// NewServiceIdentity creates a new ServiceIdentity for a platform service.
// The serviceName identifies the service (e.g., "nexus-gateway"), and
// namespace is the Kubernetes namespace or deployment environment.
// Claims and permissions are defensively copied to ensure immutability.
//
// Returns an error if id or serviceName is empty, as these are required
// for authorization and audit purposes.
func NewServiceIdentity(id, serviceName, namespace string, claims map[string]any, permissions []Permission) (*ServiceIdentity, error) {
	if id == "" {
		return nil, errors.New("auth: service identity id must not be empty")
	}
	if serviceName == "" {
		return nil, errors.New("auth: service identity serviceName must not be empty")
	}
	copiedClaims := make(map[string]any, len(claims))
	for k, v := range claims {
		copiedClaims[k] = v
	}
	copiedPerms := make([]Permission, len(permissions))
	copy(copiedPerms, permissions)
	return &ServiceIdentity{
		id:          id,
		serviceName: serviceName,
		namespace:   namespace,
		claims:      copiedClaims,
		permissions: copiedPerms,
	}, nil
}

// ID returns the unique identifier of the service identity.
func (s *ServiceIdentity) ID() string { return s.id }

// Type returns IdentityTypeService.
func (s *ServiceIdentity) Type() IdentityType { return IdentityTypeService }

// Claims returns a shallow copy of the service identity's claims.
func (s *ServiceIdentity) Claims() map[string]any {
	copied := make(map[string]any, len(s.claims))
	for k, v := range s.claims {
		copied[k] = v
	}
	return copied
}

// HasPermission checks whether this service identity has been granted the
// specified permission. Supports wildcard matching: a permission with
// Resource="*" matches any resource, and Action="*" matches any action.
func (s *ServiceIdentity) HasPermission(resource, action string) bool {
	return hasPermission(s.permissions, resource, action)
}

// ServiceName returns the name of the service (e.g., "nexus-gateway").
func (s *ServiceIdentity) ServiceName() string { return s.serviceName }

// Namespace returns the Kubernetes namespace or deployment environment
// of the service.
func (s *ServiceIdentity) Namespace() string { return s.namespace }

// Permissions returns a copy of the service identity's permission list.
// The returned slice is a defensive copy; callers may safely modify it
// without affecting the identity. This is useful for audit logging and
// policy introspection.
func (s *ServiceIdentity) Permissions() []Permission {
	copied := make([]Permission, len(s.permissions))
	copy(copied, s.permissions)
	return copied
}

// UserIdentity represents a human user authenticated via external
// credentials (OAuth2, OIDC, SAML, JWT). It carries user-specific
// metadata (email, display name) and permissions derived from the
// user's roles.
//
// UserIdentity is immutable after creation.
type UserIdentity struct {
	id          string
	email       string
	displayName string
	claims      map[string]any
	permissions []Permission
}

// NewUserIdentity creates a new UserIdentity for a human user.
// Claims and permissions are defensively copied to ensure immutability.
//
// Returns an error if id or email is empty, as these are required
// for authorization and audit purposes.
func NewUserIdentity(id, email, displayName string, claims map[string]any, permissions []Permission) (*UserIdentity, error) {
	if id == "" {
		return nil, errors.New("auth: user identity id must not be empty")
	}
	if email == "" {
		return nil, errors.New("auth: user identity email must not be empty")
	}
	copiedClaims := make(map[string]any, len(claims))
	for k, v := range claims {
		copiedClaims[k] = v
	}
	copiedPerms := make([]Permission, len(permissions))
	copy(copiedPerms, permissions)
	return &UserIdentity{
		id:          id,
		email:       email,
		displayName: displayName,
		claims:      copiedClaims,
		permissions: copiedPerms,
	}, nil
}

// ID returns the unique identifier of the user (typically a UUID from the
// identity provider).
func (u *UserIdentity) ID() string { return u.id }

// Type returns IdentityTypeUser.
func (u *UserIdentity) Type() IdentityType { return IdentityTypeUser }

// Claims returns a shallow copy of the user identity's claims.
func (u *UserIdentity) Claims() map[string]any {
	copied := make(map[string]any, len(u.claims))
	for k, v := range u.claims {
		copied[k] = v
	}
	return copied
}

// HasPermission checks whether this user identity has been granted the
// specified permission. Supports wildcard matching: a permission with
// Resource="*" matches any resource, and Action="*" matches any action.
func (u *UserIdentity) HasPermission(resource, action string) bool {
	return hasPermission(u.permissions, resource, action)
}

// Email returns the user's email address.
func (u *UserIdentity) Email() string { return u.email }

// DisplayName returns the user's display name.
func (u *UserIdentity) DisplayName() string { return u.displayName }

// Permissions returns a copy of the user identity's permission list.
// The returned slice is a defensive copy; callers may safely modify it
// without affecting the identity. This is useful for audit logging and
// policy introspection.
func (u *UserIdentity) Permissions() []Permission {
	copied := make([]Permission, len(u.permissions))
	copy(copied, u.permissions)
	return copied
}

// hasPermission is a shared helper that checks whether a permission list
// grants access to the given resource and action. Supports wildcard "*"
// for both resource and action fields.
func hasPermission(permissions []Permission, resource, action string) bool {
	for _, p := range permissions {
		resourceMatch := p.Resource == "*" || p.Resource == resource
		actionMatch := p.Action == "*" || p.Action == action
		if resourceMatch && actionMatch {
			return true
		}
	}
	return false
}

