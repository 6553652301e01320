package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// JWTProvider validates bearer tokens as JWTs signed with a shared secret.
type JWTProvider struct {
	Secret    string
	Algorithm string
	Issuer    string
	Audience  string
}

func (p *JWTProvider) Type() Type { return TypeJWT }

func (p *JWTProvider) Authenticate(r *http.Request) (*Context, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{algorithmOrDefault(p.Algorithm)}))
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(p.Secret), nil
	})
	if err != nil {
		return nil, nil // not a JWT this provider can validate; let the next provider try
	}

	if p.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != p.Issuer {
			return nil, nil
		}
	}
	if p.Audience != "" && !claims.VerifyAudience(p.Audience, true) {
		return nil, nil
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		userID, _ = claims["user_id"].(string)
	}
	if userID == "" {
		return nil, nil
	}

	return &Context{
		UserID:   userID,
		AuthType: TypeJWT,
		Scopes:   scopesFromClaim(claims["scopes"]),
		Claims:   map[string]any(claims),
	}, nil
}

func scopesFromClaim(v any) ScopeSet {
	set := ScopeSet{}
	switch val := v.(type) {
	case string:
		for _, s := range strings.Fields(val) {
			set[s] = struct{}{}
		}
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				set[s] = struct{}{}
			}
		}
	}
	return set
}

func algorithmOrDefault(alg string) string {
	if alg == "" {
		return "HS256"
	}
	return alg
}

// BearerProvider checks the Authorization header against a static table of
// configured bearer tokens, each bound to a user and scope set.
type BearerProvider struct {
	Tokens map[string]Credential
}

// Credential is the identity and scopes attached to a static credential.
type Credential struct {
	UserID string
	Scopes []string
}

func (p *BearerProvider) Type() Type { return TypeBearer }

func (p *BearerProvider) Authenticate(r *http.Request) (*Context, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	for configured, cred := range p.Tokens {
		if constantTimeEqual(token, configured) {
			return &Context{UserID: cred.UserID, AuthType: TypeBearer, Scopes: scopesOf(cred.Scopes)}, nil
		}
	}
	return nil, nil
}

// APIKeyProvider checks the X-API-Key header against a static table of
// configured keys.
type APIKeyProvider struct {
	Keys map[string]Credential
}

func (p *APIKeyProvider) Type() Type { return TypeAPIKey }

func (p *APIKeyProvider) Authenticate(r *http.Request) (*Context, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return nil, nil
	}
	for configured, cred := range p.Keys {
		if constantTimeEqual(key, configured) {
			return &Context{UserID: cred.UserID, AuthType: TypeAPIKey, Scopes: scopesOf(cred.Scopes)}, nil
		}
	}
	return nil, nil
}

func scopesOf(scopes []string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// constantTimeEqual compares two credentials without leaking timing
// information about a partial match.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
