// Package session holds the mutable per connection state that preparators
// read and handlers write.
package session

import (
	"errors"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/modvar"
)

var (
	// ErrAlreadyNegotiated is returned when a negotiated value is set twice within one handshake
	ErrAlreadyNegotiated = errors.New("value already negotiated")
)

// Capability names a negotiated peer capability
type Capability string

const (
	CapCipherSuites        Capability = "cipher_suites"
	CapNamedGroups         Capability = "named_groups"
	CapPointFormats        Capability = "point_formats"
	CapSupportedVersions   Capability = "supported_versions"
	CapSignatureAlgorithms Capability = "signature_algorithms"
	CapServerName          Capability = "server_name"
	CapLastAlert           Capability = "last_alert"
	CapEhloExtensions      Capability = "ehlo_extensions"
	CapSASLMechanisms      Capability = "sasl_mechanisms"
	CapServerIdentity      Capability = "server_identity"
	CapClientIdentity      Capability = "client_identity"
	CapReversePath         Capability = "reverse_path"
	CapForwardPaths        Capability = "forward_paths"
	CapMailboxStat         Capability = "mailbox_stat"
	CapPOP3User            Capability = "pop3_user"
	CapPOP3Selected        Capability = "pop3_selected"
	CapLargestAcked        Capability = "largest_acknowledged"
	CapCloseReason         Capability = "close_reason"
	CapCryptoOffset        Capability = "crypto_offset"
	CapFinishedVerified    Capability = "finished_verified"
)

// Handshake holds the key material of the running handshake
type Handshake struct {
	ClientRandom    []byte
	ServerRandom    []byte
	SessionID       []byte
	Cookie          []byte
	Curve           uint16
	LocalPublicKey  []byte
	LocalPrivateKey []byte
	PeerPublicKey   []byte
	MasterSecret    []byte
	// DTLS handshake message sequence numbers
	NextSendSeq    uint16
	NextReceiveSeq uint16
}

func (h Handshake) clone() Handshake {
	return Handshake{
		ClientRandom:    cloneBytes(h.ClientRandom),
		ServerRandom:    cloneBytes(h.ServerRandom),
		SessionID:       cloneBytes(h.SessionID),
		Cookie:          cloneBytes(h.Cookie),
		Curve:           h.Curve,
		LocalPublicKey:  cloneBytes(h.LocalPublicKey),
		LocalPrivateKey: cloneBytes(h.LocalPrivateKey),
		PeerPublicKey:   cloneBytes(h.PeerPublicKey),
		MasterSecret:    cloneBytes(h.MasterSecret),
		NextSendSeq:     h.NextSendSeq,
		NextReceiveSeq:  h.NextReceiveSeq,
	}
}

// Context is owned by exactly one run
type Context struct {
	role   Role
	config *config.Config
	logger *log.Logger
	hook   modvar.Hook

	talkingSide  Role
	version      *uint16
	suite        *uint16
	transcript   *Transcript
	capabilities map[Capability]interface{}
	handshake    Handshake

	lastCommand      string
	greetingReceived bool
}

// New creates the context of one connection end. A nil hook means no fuzzing.
func New(role Role, cfg *config.Config, logger *log.Logger, hook modvar.Hook) *Context {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if hook == nil {
		hook = modvar.Nop{}
	}
	return &Context{
		role:         role,
		config:       cfg,
		logger:       logger.With(log.LogParams{"role": role.String()}),
		hook:         hook,
		talkingSide:  role,
		transcript:   NewTranscript(),
		capabilities: make(map[Capability]interface{}),
	}
}

func (c *Context) Role() Role {
	return c.role
}

func (c *Context) Config() *config.Config {
	return c.config
}

func (c *Context) Logger() *log.Logger {
	return c.logger
}

// Hook returns the run level field mutation hook
func (c *Context) Hook() modvar.Hook {
	return c.hook
}

func (c *Context) TalkingSide() Role {
	return c.talkingSide
}

func (c *Context) SetTalkingSide(r Role) {
	c.talkingSide = r
}

// NegotiatedVersion returns the version chosen in this handshake, if any
func (c *Context) NegotiatedVersion() (uint16, bool) {
	if c.version == nil {
		return 0, false
	}
	return *c.version, true
}

// SetNegotiatedVersion records the version. It can be set once per handshake.
func (c *Context) SetNegotiatedVersion(v uint16) error {
	if c.version != nil {
		return ErrAlreadyNegotiated
	}
	c.version = &v
	return nil
}

// SelectedSuite returns the cipher suite chosen in this handshake, if any
func (c *Context) SelectedSuite() (uint16, bool) {
	if c.suite == nil {
		return 0, false
	}
	return *c.suite, true
}

// SetSelectedSuite records the suite. It can be set once per handshake.
func (c *Context) SetSelectedSuite(s uint16) error {
	if c.suite != nil {
		return ErrAlreadyNegotiated
	}
	c.suite = &s
	return nil
}

// Transcript returns the running transcript
func (c *Context) Transcript() *Transcript {
	return c.transcript
}

// ExtendTranscript appends handshake bytes in wire order
func (c *Context) ExtendTranscript(b []byte) {
	c.transcript.Extend(b)
}

// Handshake returns the key material of the running handshake. Callers
// outside handlers must treat it as read only.
func (c *Context) Handshake() *Handshake {
	return &c.handshake
}

// SetCapability records a peer capability
func (c *Context) SetCapability(k Capability, v interface{}) {
	c.capabilities[k] = v
}

// Capability returns a recorded peer capability
func (c *Context) Capability(k Capability) (interface{}, bool) {
	v, ok := c.capabilities[k]
	return v, ok
}

// CapabilityOf returns a capability of the expected type
func CapabilityOf[T any](c *Context, k Capability) (T, bool) {
	var zero T
	v, ok := c.capabilities[k]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// LastCommand is the kind of the last command of a line based conversation
func (c *Context) LastCommand() string {
	return c.lastCommand
}

func (c *Context) SetLastCommand(kind string) {
	c.lastCommand = kind
}

func (c *Context) GreetingReceived() bool {
	return c.greetingReceived
}

func (c *Context) SetGreetingReceived(v bool) {
	c.greetingReceived = v
}

// ResetTranscript starts a new transcript, keeping the negotiated state
func (c *Context) ResetTranscript() {
	c.transcript = NewTranscript()
}

// ResetHandshake forgets everything negotiated so far. Role, config, logger
// and hook stay.
func (c *Context) ResetHandshake() {
	c.version = nil
	c.suite = nil
	c.transcript = NewTranscript()
	c.capabilities = make(map[Capability]interface{})
	c.handshake = Handshake{}
	c.lastCommand = ""
	c.greetingReceived = false
	c.talkingSide = c.role
}

// Snapshot is a deep copy of the mutable state
type Snapshot struct {
	Role             Role
	TalkingSide      Role
	Version          *uint16
	Suite            *uint16
	Transcript       []byte
	Capabilities     map[Capability]interface{}
	Handshake        Handshake
	LastCommand      string
	GreetingReceived bool
}

// Snapshot copies the mutable state for later comparison
func (c *Context) Snapshot() Snapshot {
	s := Snapshot{
		Role:             c.role,
		TalkingSide:      c.talkingSide,
		Transcript:       c.transcript.Bytes(),
		Capabilities:     make(map[Capability]interface{}, len(c.capabilities)),
		Handshake:        c.handshake.clone(),
		LastCommand:      c.lastCommand,
		GreetingReceived: c.greetingReceived,
	}
	if c.version != nil {
		v := *c.version
		s.Version = &v
	}
	if c.suite != nil {
		v := *c.suite
		s.Suite = &v
	}
	for k, v := range c.capabilities {
		s.Capabilities[k] = v
	}
	return s
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
