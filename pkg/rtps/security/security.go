// Package security defines the optional SecurityPlugin contract
// engines consult before submitting a change and before pairing with a
// newly discovered remote entity, plus a JWT-based pairing
// implementation grounded on the teacher's HTTP/WebSocket auth layer
// (go-server/internal/auth/jwt.go), repurposed from bearer-token
// request authentication to RTPS entity-pairing authorization.
package security

import (
	"errors"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

// ErrPairingDenied is returned by a Plugin's pairing hooks when the
// remote entity's credential does not authorize the match.
var ErrPairingDenied = errors.New("security: pairing denied")

// RemoteReaderData carries what's needed to authorize a reader wanting
// to match a local writer: its identity and an opaque credential
// (typically a signed token) asserted by discovery.
type RemoteReaderData struct {
	GUID       guid.GUID
	Credential string
}

// RemoteWriterData is the symmetric counterpart for a reader pairing
// with a discovered writer.
type RemoteWriterData struct {
	GUID       guid.GUID
	Credential string
}

// Plugin is the contract engines consult when security is enabled.
// Nothing in the core calls these unless a Plugin has been wired in;
// absent a plugin, every change is submitted and every pairing allowed.
type Plugin interface {
	// EncryptCacheChange transforms a change's payload prior to
	// submission into the history cache.
	EncryptCacheChange(c *change.CacheChange) error

	// ProtectSubmessage transforms a fully serialized submessage at
	// message-group flush time, immediately before handing it to the
	// transport.
	ProtectSubmessage(payload []byte) ([]byte, error)

	// PairRemoteReaderWithLocalWriter authorizes a discovered reader
	// against a local writer. A non-nil error (typically
	// ErrPairingDenied) prevents the match from being added to the
	// matched-reader registry.
	PairRemoteReaderWithLocalWriter(localWriter guid.GUID, remote RemoteReaderData) error

	// PairRemoteWriterWithLocalReader is the symmetric hook for the
	// reader side.
	PairRemoteWriterWithLocalReader(localReader guid.GUID, remote RemoteWriterData) error
}

// NoPlugin is the zero-overhead default: every operation passes
// through unchanged.
type NoPlugin struct{}

func (NoPlugin) EncryptCacheChange(*change.CacheChange) error { return nil }

func (NoPlugin) ProtectSubmessage(payload []byte) ([]byte, error) { return payload, nil }

func (NoPlugin) PairRemoteReaderWithLocalWriter(guid.GUID, RemoteReaderData) error { return nil }

func (NoPlugin) PairRemoteWriterWithLocalReader(guid.GUID, RemoteWriterData) error { return nil }

var _ Plugin = NoPlugin{}
