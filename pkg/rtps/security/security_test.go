package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

func mkGUID(b byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{b}, Entity: guid.EntityID{1}}
}

func TestJWTPairingAcceptsValidCredential(t *testing.T) {
	p := NewJWTPairing("test-secret", "domain-0", time.Hour)
	reader := mkGUID(1)

	token, err := p.Issue(reader)
	require.NoError(t, err)

	err = p.PairRemoteReaderWithLocalWriter(mkGUID(9), RemoteReaderData{GUID: reader, Credential: token})
	assert.NoError(t, err)
}

func TestJWTPairingRejectsEntityMismatch(t *testing.T) {
	p := NewJWTPairing("test-secret", "domain-0", time.Hour)
	token, err := p.Issue(mkGUID(1))
	require.NoError(t, err)

	err = p.PairRemoteReaderWithLocalWriter(mkGUID(9), RemoteReaderData{GUID: mkGUID(2), Credential: token})
	assert.ErrorIs(t, err, ErrPairingDenied)
}

func TestJWTPairingRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTPairing("secret-a", "domain-0", time.Hour)
	verifier := NewJWTPairing("secret-b", "domain-0", time.Hour)

	token, err := issuer.Issue(mkGUID(1))
	require.NoError(t, err)

	err = verifier.PairRemoteReaderWithLocalWriter(mkGUID(9), RemoteReaderData{GUID: mkGUID(1), Credential: token})
	assert.ErrorIs(t, err, ErrPairingDenied)
}

func TestJWTPairingRejectsDomainMismatch(t *testing.T) {
	issuer := NewJWTPairing("test-secret", "domain-a", time.Hour)
	verifier := NewJWTPairing("test-secret", "domain-b", time.Hour)

	token, err := issuer.Issue(mkGUID(1))
	require.NoError(t, err)

	err = verifier.PairRemoteReaderWithLocalWriter(mkGUID(9), RemoteReaderData{GUID: mkGUID(1), Credential: token})
	assert.ErrorIs(t, err, ErrPairingDenied)
}

func TestNoPluginPassesEverythingThrough(t *testing.T) {
	var p Plugin = NoPlugin{}
	assert.NoError(t, p.EncryptCacheChange(nil))
	out, err := p.ProtectSubmessage([]byte("x"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("x"), out)
	assert.NoError(t, p.PairRemoteReaderWithLocalWriter(mkGUID(1), RemoteReaderData{}))
}
