// Package tls speaks the TLS 1.2 and DTLS 1.2 handshake in plaintext. Records
// are never encrypted, key material only feeds the Finished verify data.
package tls

import (
	"github.com/wiretamper/wiretamper/message"
)

// Record content types
const (
	ContentChangeCipherSpec uint8 = 20
	ContentAlert            uint8 = 21
	ContentHandshake        uint8 = 22
	ContentApplicationData  uint8 = 23
)

// Handshake message types
const (
	TypeClientHello        uint8 = 1
	TypeServerHello        uint8 = 2
	TypeHelloVerifyRequest uint8 = 3
	TypeCertificate        uint8 = 11
	TypeServerKeyExchange  uint8 = 12
	TypeServerHelloDone    uint8 = 14
	TypeClientKeyExchange  uint8 = 16
	TypeFinished           uint8 = 20
)

// Protocol versions
const (
	VersionTLS12  uint16 = 0x0303
	VersionTLS10  uint16 = 0x0301
	VersionDTLS12 uint16 = 0xfefd
)

// Extension types
const (
	ExtServerName          uint16 = 0
	ExtSupportedGroups     uint16 = 10
	ExtPointFormats        uint16 = 11
	ExtSignatureAlgorithms uint16 = 13
	ExtSupportedVersions   uint16 = 43
)

// Alert levels and the descriptions used by the factory traces
const (
	AlertWarning uint8 = 1
	AlertFatal   uint8 = 2

	AlertCloseNotify       uint8 = 0
	AlertUnexpectedMessage uint8 = 10
	AlertHandshakeFailure  uint8 = 40
	AlertDecodeError       uint8 = 50
)

// CurveNamed is the ECParameters curve type of a named curve
const CurveNamed uint8 = 3

const (
	maxFragment            = 1 << 14
	recordHeaderLen        = 5
	dtlsRecordHeaderLen    = 13
	handshakeHeaderLen     = 4
	dtlsHandshakeHeaderLen = 12
	randomLen              = 32
	verifyDataLen          = 12
)

// Message kinds
const (
	KindClientHello        message.Kind = "ClientHello"
	KindServerHello        message.Kind = "ServerHello"
	KindHelloVerifyRequest message.Kind = "HelloVerifyRequest"
	KindCertificate        message.Kind = "Certificate"
	KindServerKeyExchange  message.Kind = "ServerKeyExchange"
	KindServerHelloDone    message.Kind = "ServerHelloDone"
	KindClientKeyExchange  message.Kind = "ClientKeyExchange"
	KindChangeCipherSpec   message.Kind = "ChangeCipherSpec"
	KindFinished           message.Kind = "Finished"
	KindAlert              message.Kind = "Alert"
	KindApplicationData    message.Kind = "ApplicationData"
)

var handshakeKinds = map[uint8]message.Kind{
	TypeClientHello:        KindClientHello,
	TypeServerHello:        KindServerHello,
	TypeHelloVerifyRequest: KindHelloVerifyRequest,
	TypeCertificate:        KindCertificate,
	TypeServerKeyExchange:  KindServerKeyExchange,
	TypeServerHelloDone:    KindServerHelloDone,
	TypeClientKeyExchange:  KindClientKeyExchange,
	TypeFinished:           KindFinished,
}

// contentTypeOf maps a kind to the record content type carrying it
func contentTypeOf(kind message.Kind) uint8 {
	switch kind {
	case KindChangeCipherSpec:
		return ContentChangeCipherSpec
	case KindAlert:
		return ContentAlert
	case KindApplicationData:
		return ContentApplicationData
	}
	return ContentHandshake
}
