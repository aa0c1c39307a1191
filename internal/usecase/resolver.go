package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"iam-gateway/internal/domain"
)

const defaultStatus = "active"

// Resolver implements domain.IdentityResolver. A nil Identity means "not
// authenticated"; transport failures and rejected credentials look the same.
type Resolver struct {
	client   domain.IdentityClient
	strategy domain.ResolutionStrategy
	mirror   domain.IdentityMirror
	logger   *slog.Logger
}

// NewResolver creates a resolver for strategy. The mirrored strategy requires a mirror.
func NewResolver(client domain.IdentityClient, strategy domain.ResolutionStrategy, mirror domain.IdentityMirror, logger *slog.Logger) (*Resolver, error) {
	if strategy == domain.StrategyMirrored && mirror == nil {
		return nil, fmt.Errorf("%w: mirrored strategy requires an identity mirror", domain.ErrConfiguration)
	}
	if strategy == "" {
		strategy = domain.StrategyEphemeral
	}
	return &Resolver{client: client, strategy: strategy, mirror: mirror, logger: logger}, nil
}

// Strategy returns the configured resolution strategy.
func (r *Resolver) Strategy() domain.ResolutionStrategy { return r.strategy }

// ResolveByCredentials logs in upstream and materializes the identity bound to the issued token.
func (r *Resolver) ResolveByCredentials(ctx context.Context, email, password string) *domain.Identity {
	res, err := r.client.Login(ctx, email, password)
	if err != nil || res == nil {
		return nil
	}
	return r.materialize(ctx, res, res.AccessToken)
}

// ResolveByToken verifies token upstream.
func (r *Resolver) ResolveByToken(ctx context.Context, token string) *domain.Identity {
	if token == "" {
		return nil
	}
	res, err := r.client.Verify(ctx, token)
	if err != nil || res == nil {
		return nil
	}
	return r.materialize(ctx, res, token)
}

// ResolveByPhone exchanges a phone and one-time code for an identity.
func (r *Resolver) ResolveByPhone(ctx context.Context, phone, otp, deviceName string) *domain.Identity {
	res, err := r.client.LoginWithPhone(ctx, phone, otp, deviceName)
	if err != nil || res == nil {
		return nil
	}
	return r.materialize(ctx, res, res.AccessToken)
}

func (r *Resolver) materialize(ctx context.Context, res *domain.AuthResult, token string) *domain.Identity {
	identity := IdentityFromAuthResult(res, token)
	if identity == nil {
		r.logger.WarnContext(ctx, "IAM response without user or token", "strategy", r.strategy)
		return nil
	}

	if r.strategy != domain.StrategyMirrored {
		return identity
	}

	mirrored, err := r.mirror.Upsert(ctx, identity)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to mirror identity", "error", err, "iam_id", identity.ID)
		return nil
	}
	return mirrored
}

// IdentityFromAuthResult maps an IAM response to an Identity. Permissions are
// the de-duplicated union of direct and role-attached permissions. It returns
// nil when the response carries no user or no token.
func IdentityFromAuthResult(res *domain.AuthResult, token string) *domain.Identity {
	if res == nil || res.User == nil || token == "" {
		return nil
	}
	u := res.User

	roles := make([]string, 0, len(u.Roles))
	permissions := make([]string, 0, len(res.Permissions))
	addPermission := func(name domain.NameRef) {
		if name != "" && !slices.Contains(permissions, string(name)) {
			permissions = append(permissions, string(name))
		}
	}

	for _, p := range res.Permissions {
		addPermission(p)
	}
	for _, role := range u.Roles {
		if role.Name != "" && !slices.Contains(roles, role.Name) {
			roles = append(roles, role.Name)
		}
		for _, p := range role.Permissions {
			addPermission(p)
		}
	}

	status := u.Status
	if status == "" {
		status = defaultStatus
	}

	return &domain.Identity{
		ID:           u.ID.String(),
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone.String(),
		DepartmentID: u.DepartmentID.String(),
		PositionID:   u.PositionID.String(),
		Status:       status,
		Roles:        roles,
		Permissions:  permissions,
		Token:        token,
	}
}
