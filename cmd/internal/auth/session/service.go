package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"plug/cmd/identity"
	"plug/cmd/internal/auth/clock"
	"plug/cmd/security/token"
)

// Observer receives issuance outcomes (metrics). op is register, login,
// refresh or logout; outcome is "ok" or a Kind.
type Observer interface {
	ObserveIssuance(op string, outcome string)
}

// Deps are the collaborators a Service orchestrates. None of them are
// owned by the Service.
type Deps struct {
	Identities identity.Store
	Secrets    identity.SecretHasher
	Refresh    RefreshStore
	Signer     AccessSigner
	Hasher     token.Hasher
	Logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.obs = o }
}

// Service implements register, login, refresh and logout.
//
// It owns no records: identities belong to the identity store and refresh
// credentials to the RefreshStore. Nothing is returned to the caller unless
// both the access token and the stored refresh credential were produced.
type Service struct {
	cfg        Config
	policy     clock.Policy
	identities identity.Store
	verifier   *identity.Verifier
	secrets    identity.SecretHasher
	refresh    RefreshStore
	signer     AccessSigner
	hasher     token.Hasher
	log        *slog.Logger
	now        func() time.Time
	obs        Observer
}

// NewService validates deps and builds the identity verifier.
func NewService(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if deps.Identities == nil || deps.Secrets == nil || deps.Refresh == nil || deps.Signer == nil {
		return nil, fmt.Errorf("session: missing dependency")
	}
	if cfg.RefreshTokenBytes <= 0 {
		cfg.RefreshTokenBytes = DefaultConfig().RefreshTokenBytes
	}

	verifier, err := identity.NewVerifier(deps.Identities, deps.Secrets)
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:        cfg,
		policy:     clock.NewPolicy(cfg.AccessExpiresIn, cfg.RefreshExpiresIn),
		identities: deps.Identities,
		verifier:   verifier,
		secrets:    deps.Secrets,
		refresh:    deps.Refresh,
		signer:     deps.Signer,
		hasher:     deps.Hasher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy exposes the parsed expiry policy (for startup logging).
func (s *Service) Policy() clock.Policy { return s.policy }

// VerifyAccess checks an access token without touching any store.
func (s *Service) VerifyAccess(raw string) (AccessClaims, error) {
	return s.signer.Verify(raw, s.now())
}

// Register creates an identity and issues its first credential pair.
// An empty role means identity.RoleUser.
func (s *Service) Register(ctx context.Context, name, secret, role string) (res Result) {
	const op = "register"
	defer func() { s.observe(op, res) }()

	if _, err := s.identities.FindByName(ctx, name); err == nil {
		return failure(KindAlreadyExists, detailAlreadyExists, nil)
	} else if !identity.IsNotFound(err) {
		return s.internal(op, fmt.Errorf("find identity: %w", err))
	}

	verifier, err := s.secrets.Hash(secret)
	if err != nil {
		return s.internal(op, fmt.Errorf("hash secret: %w", err))
	}
	if role == "" {
		role = identity.RoleUser
	}

	now := s.now()
	created, err := s.identities.Create(ctx, identity.Identity{
		Name:           name,
		SecretVerifier: verifier,
		Role:           role,
		CreatedAt:      now,
	})
	switch {
	case err == nil:
	case identity.IsConflict(err):
		// Lost a race with a concurrent registration of the same name.
		return failure(KindAlreadyExists, detailAlreadyExists, nil)
	case identity.IsInvalidInput(err):
		return failure(KindInvalidInput, invalidInputDetail(err), err)
	default:
		return s.internal(op, fmt.Errorf("create identity: %w", err))
	}

	return s.issue(ctx, op, created, now)
}

// Login verifies the secret and issues a credential pair.
func (s *Service) Login(ctx context.Context, name, secret string) (res Result) {
	const op = "login"
	defer func() { s.observe(op, res) }()

	id, err := s.verifier.Verify(ctx, name, secret)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			return failure(KindInvalidCredentials, detailInvalidCredentials, nil)
		}
		return s.internal(op, err)
	}
	return s.issue(ctx, op, id, s.now())
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked first, so each refresh token succeeds at most once even when
// presented concurrently.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (res Result) {
	const op = "refresh"
	defer func() { s.observe(op, res) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxPresentedTokenLen {
		return failure(KindInvalidToken, detailInvalidRefresh, nil)
	}
	hash := s.hasher.Digest(refreshToken)
	now := s.now()

	cred, err := s.refresh.FindByToken(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return failure(KindInvalidToken, detailInvalidRefresh, nil)
		}
		return s.internal(op, fmt.Errorf("find refresh credential: %w", err))
	}
	if !cred.Valid(now) {
		return failure(KindTokenExpiredOrRevoked, detailExpiredOrRevoked, nil)
	}

	owner, err := s.identities.FindByID(ctx, cred.OwnerID)
	if err != nil {
		if !identity.IsNotFound(err) {
			return s.internal(op, fmt.Errorf("find owner: %w", err))
		}
		// The credential can never resolve to an identity again.
		if _, rerr := s.refresh.RevokeToken(ctx, hash, now); rerr != nil {
			return s.internal(op, fmt.Errorf("revoke orphaned credential: %w", rerr))
		}
		s.log.Warn("auth.refresh.owner_missing", "credential_id", cred.ID, "owner_id", cred.OwnerID)
		return failure(KindUserNotFound, detailUserNotFound, nil)
	}

	revoked, err := s.refresh.RevokeToken(ctx, hash, now)
	if err != nil {
		return s.internal(op, fmt.Errorf("revoke presented credential: %w", err))
	}
	if !revoked {
		// A concurrent refresh revoked it between our find and revoke.
		return failure(KindTokenExpiredOrRevoked, detailExpiredOrRevoked, nil)
	}

	return s.issue(ctx, op, owner, now)
}

// Logout revokes the presented refresh token, or every unrevoked token of
// its owner when everywhere is set. Success carries no tokens.
func (s *Service) Logout(ctx context.Context, refreshToken string, everywhere bool) (res Result) {
	const op = "logout"
	defer func() { s.observe(op, res) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxPresentedTokenLen {
		return failure(KindInvalidToken, detailInvalidRefresh, nil)
	}
	hash := s.hasher.Digest(refreshToken)
	now := s.now()

	cred, err := s.refresh.FindByToken(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return failure(KindInvalidToken, detailInvalidRefresh, nil)
		}
		return s.internal(op, fmt.Errorf("find refresh credential: %w", err))
	}

	if everywhere {
		n, err := s.refresh.RevokeAllForOwner(ctx, cred.OwnerID, now)
		if err != nil {
			return s.internal(op, fmt.Errorf("revoke all: %w", err))
		}
		s.log.Info("auth.logout.everywhere", "owner_id", cred.OwnerID, "revoked", n)
		return success(Tokens{})
	}

	if _, err := s.refresh.RevokeToken(ctx, hash, now); err != nil {
		return s.internal(op, fmt.Errorf("revoke: %w", err))
	}
	return success(Tokens{})
}

// issue mints the access token, then persists a new refresh credential.
// If persisting fails the signed access token is dropped.
func (s *Service) issue(ctx context.Context, op string, id identity.Identity, now time.Time) Result {
	w := s.policy.Window(now)

	access, err := s.signer.Sign(AccessClaims{Name: id.Name, Role: id.Role, ExpiresAt: w.AccessExpiresAt})
	if err != nil {
		return s.internal(op, err)
	}

	plain, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return s.internal(op, fmt.Errorf("refresh entropy: %w", err))
	}
	credID, err := identity.NewULID(w.IssuedAt)
	if err != nil {
		return s.internal(op, fmt.Errorf("credential id: %w", err))
	}

	err = s.refresh.Create(ctx, RefreshCredential{
		ID:        credID,
		OwnerID:   id.ID,
		TokenHash: s.hasher.Digest(plain),
		IssuedAt:  w.IssuedAt,
		ExpiresAt: w.RefreshExpiresAt,
	})
	if err != nil {
		return s.internal(op, fmt.Errorf("store refresh credential: %w", err))
	}

	return success(Tokens{
		AccessToken:      access,
		RefreshToken:     plain,
		AccessExpiresAt:  w.AccessExpiresAt,
		RefreshExpiresAt: w.RefreshExpiresAt,
		Name:             id.Name,
		Role:             id.Role,
	})
}

func (s *Service) internal(op string, err error) Result {
	s.log.Error("auth."+op+".fail", "err", err)
	return failure(KindInternal, detailInternal, err)
}

func (s *Service) observe(op string, res Result) {
	if s.obs == nil {
		return
	}
	outcome := "ok"
	if res.Failure != nil {
		outcome = string(res.Failure.Kind)
	}
	s.obs.ObserveIssuance(op, outcome)
}

func invalidInputDetail(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "Invalid input"
}
