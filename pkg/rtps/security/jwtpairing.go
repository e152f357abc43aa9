package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

// PairingClaims is the token payload a discovered entity's credential
// must carry: the domain it is authorized to join and the entity GUID
// it was issued for (so a stolen token can't be replayed for a
// different entity).
type PairingClaims struct {
	Domain string `json:"domain"`
	Entity string `json:"entity"`
	jwt.RegisteredClaims
}

// JWTPairing is a Plugin that authorizes pairing via HMAC-signed
// tokens, structured the same way as the teacher's JWTManager
// (go-server/internal/auth/jwt.go): a secret key, a Verify that checks
// the signing method before trusting the secret, and an Issue helper
// for minting tokens for locally owned entities. Cache-change
// encryption and submessage protection are left as pass-through —
// wire-level crypto is out of scope here, only the pairing decision.
type JWTPairing struct {
	secretKey     []byte
	domain        string
	tokenDuration time.Duration
}

// NewJWTPairing builds a pairing plugin scoped to one domain.
func NewJWTPairing(secretKey string, domain string, tokenDuration time.Duration) *JWTPairing {
	return &JWTPairing{
		secretKey:     []byte(secretKey),
		domain:        domain,
		tokenDuration: tokenDuration,
	}
}

// Issue mints a credential for a locally owned entity, to be handed to
// discovery for publication alongside that entity's proxy data.
func (p *JWTPairing) Issue(entity guid.GUID) (string, error) {
	claims := &PairingClaims{
		Domain: p.domain,
		Entity: entity.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "corewriter-rtps",
			Subject:   entity.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secretKey)
}

func (p *JWTPairing) verify(credential string, expectEntity guid.GUID) error {
	token, err := jwt.ParseWithClaims(credential, &PairingClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secretKey, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPairingDenied, err)
	}
	claims, ok := token.Claims.(*PairingClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("%w: invalid claims", ErrPairingDenied)
	}
	if claims.Domain != p.domain {
		return fmt.Errorf("%w: domain mismatch", ErrPairingDenied)
	}
	if claims.Entity != expectEntity.String() {
		return fmt.Errorf("%w: entity mismatch", ErrPairingDenied)
	}
	return nil
}

func (p *JWTPairing) EncryptCacheChange(*change.CacheChange) error { return nil }

func (p *JWTPairing) ProtectSubmessage(payload []byte) ([]byte, error) { return payload, nil }

func (p *JWTPairing) PairRemoteReaderWithLocalWriter(_ guid.GUID, remote RemoteReaderData) error {
	if remote.Credential == "" {
		return errors.New("security: missing credential")
	}
	return p.verify(remote.Credential, remote.GUID)
}

func (p *JWTPairing) PairRemoteWriterWithLocalReader(_ guid.GUID, remote RemoteWriterData) error {
	if remote.Credential == "" {
		return errors.New("security: missing credential")
	}
	return p.verify(remote.Credential, remote.GUID)
}

var _ Plugin = (*JWTPairing)(nil)
