package tls

import (
	"github.com/wiretamper/wiretamper/message"
)

// Header of a handshake message. Both fields are filled by the preparator.
type Header struct {
	Length uint32 `yaml:"length,omitempty"`
	// MessageSeq is only written by dtls
	MessageSeq uint16 `yaml:"message_seq,omitempty"`
}

func (h *Header) header() *Header {
	return h
}

type handshakeMessage interface {
	message.Message
	header() *Header
}

type ClientHello struct {
	message.Base       `yaml:",inline"`
	Header             `yaml:",inline"`
	Version            uint16        `yaml:"version,omitempty"`
	Random             message.Bytes `yaml:"random,omitempty"`
	SessionID          message.Bytes `yaml:"session_id,omitempty"`
	Cookie             message.Bytes `yaml:"cookie,omitempty"`
	CipherSuites       message.Bytes `yaml:"cipher_suites,omitempty"`
	CompressionMethods message.Bytes `yaml:"compression_methods,omitempty"`
	Extensions         []Extension   `yaml:"extensions,omitempty"`
	// ExtensionBytes is the serialized extension list, what is actually sent
	ExtensionBytes message.Bytes `yaml:"extension_bytes,omitempty"`
}

func (*ClientHello) Kind() message.Kind { return KindClientHello }

type ServerHello struct {
	message.Base   `yaml:",inline"`
	Header         `yaml:",inline"`
	Version        uint16        `yaml:"version,omitempty"`
	Random         message.Bytes `yaml:"random,omitempty"`
	SessionID      message.Bytes `yaml:"session_id,omitempty"`
	CipherSuite    uint16        `yaml:"cipher_suite,omitempty"`
	Compression    uint8         `yaml:"compression,omitempty"`
	Extensions     []Extension   `yaml:"extensions,omitempty"`
	ExtensionBytes message.Bytes `yaml:"extension_bytes,omitempty"`
}

func (*ServerHello) Kind() message.Kind { return KindServerHello }

type HelloVerifyRequest struct {
	message.Base `yaml:",inline"`
	Header       `yaml:",inline"`
	Version      uint16        `yaml:"version,omitempty"`
	Cookie       message.Bytes `yaml:"cookie,omitempty"`
}

func (*HelloVerifyRequest) Kind() message.Kind { return KindHelloVerifyRequest }

// Certificate carries DER certificates. They are never validated.
type Certificate struct {
	message.Base `yaml:",inline"`
	Header       `yaml:",inline"`
	Certificates []message.Bytes `yaml:"certificates,omitempty"`
	// ListBytes is the serialized certificate list
	ListBytes message.Bytes `yaml:"list_bytes,omitempty"`
}

func (*Certificate) Kind() message.Kind { return KindCertificate }

// ServerKeyExchange carries ephemeral ECDH parameters. The signature is
// whatever is configured, it is never computed.
type ServerKeyExchange struct {
	message.Base       `yaml:",inline"`
	Header             `yaml:",inline"`
	CurveType          uint8         `yaml:"curve_type,omitempty"`
	NamedCurve         uint16        `yaml:"named_curve,omitempty"`
	PublicKey          message.Bytes `yaml:"public_key,omitempty"`
	PrivateKey         message.Bytes `yaml:"private_key,omitempty"`
	SignatureAlgorithm uint16        `yaml:"signature_algorithm,omitempty"`
	Signature          message.Bytes `yaml:"signature,omitempty"`
}

func (*ServerKeyExchange) Kind() message.Kind { return KindServerKeyExchange }

type ServerHelloDone struct {
	message.Base `yaml:",inline"`
	Header       `yaml:",inline"`
}

func (*ServerHelloDone) Kind() message.Kind { return KindServerHelloDone }

// ClientKeyExchange carries the client ECDH public key. Curve and PrivateKey
// stay local.
type ClientKeyExchange struct {
	message.Base `yaml:",inline"`
	Header       `yaml:",inline"`
	Curve        uint16        `yaml:"curve,omitempty"`
	PublicKey    message.Bytes `yaml:"public_key,omitempty"`
	PrivateKey   message.Bytes `yaml:"private_key,omitempty"`
}

func (*ClientKeyExchange) Kind() message.Kind { return KindClientKeyExchange }

type Finished struct {
	message.Base `yaml:",inline"`
	Header       `yaml:",inline"`
	VerifyData   message.Bytes `yaml:"verify_data,omitempty"`
}

func (*Finished) Kind() message.Kind { return KindFinished }

type ChangeCipherSpec struct {
	message.Base `yaml:",inline"`
	Value        uint8 `yaml:"value,omitempty"`
}

func (*ChangeCipherSpec) Kind() message.Kind { return KindChangeCipherSpec }

type Alert struct {
	message.Base `yaml:",inline"`
	Level        uint8 `yaml:"level,omitempty"`
	Description  uint8 `yaml:"description"`
}

func (*Alert) Kind() message.Kind { return KindAlert }

// NewAlert creates a fatal alert
func NewAlert(description uint8) *Alert {
	return &Alert{Level: AlertFatal, Description: description}
}

type ApplicationData struct {
	message.Base `yaml:",inline"`
	Data         message.Bytes `yaml:"data,omitempty"`
}

func (*ApplicationData) Kind() message.Kind { return KindApplicationData }
