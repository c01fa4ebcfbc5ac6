package session

import (
	"errors"
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicSigner struct {
	issuer    string
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicSigner builds an AccessSigner based on PASETO v4.public
// (Ed25519). Tokens carry iss, username, role and an optional exp.
func NewPasetoV4PublicSigner(cfg Config) (AccessSigner, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicSigner{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicSigner) Algorithm() string { return "v4.public" }

// PublicKeyHex exposes the verification key for other services.
func (m *pasetoV4PublicSigner) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicSigner) Sign(c AccessClaims) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	if !c.ExpiresAt.IsZero() {
		tok.SetExpiration(c.ExpiresAt)
	}
	// Minimal, explicit claims.
	_ = tok.Set("username", c.Name)
	_ = tok.Set("role", c.Role)

	return tok.V4Sign(m.secret, nil), nil
}

var errPasetoExpired = errors.New("token expired")

func (m *pasetoV4PublicSigner) Verify(raw string, now time.Time) (AccessClaims, error) {
	// Expiry is optional, so the stock NotExpired rule (which demands exp) is
	// replaced by one that only checks exp when present.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(func(tok paseto.Token) error {
		exp, err := tok.GetExpiration()
		if err != nil {
			return nil
		}
		if now.After(exp.Add(m.clockSkew)) {
			return errPasetoExpired
		}
		return nil
	})

	parsed, err := p.ParseV4Public(m.public, raw, nil)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	name, err := parsed.GetString("username")
	if err != nil || name == "" {
		return AccessClaims{}, fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	role, err := parsed.GetString("role")
	if err != nil || role == "" {
		return AccessClaims{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}

	out := AccessClaims{Name: name, Role: role}
	if exp, err := parsed.GetExpiration(); err == nil {
		out.ExpiresAt = exp
	}
	return out, nil
}
