package tls

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/pion/dtls/v2/pkg/crypto/elliptic"
)

// Options of the tls and dtls families, decoded from the options map of the
// config file
type Options struct {
	// DTLS is fixed by the family
	DTLS bool `mapstructure:"-"`
	// Version offered in hellos
	Version uint16 `mapstructure:"version"`
	// RecordVersion written into record headers before a version is negotiated
	RecordVersion       uint16   `mapstructure:"record_version"`
	CipherSuites        []uint16 `mapstructure:"cipher_suites"`
	NamedGroups         []uint16 `mapstructure:"named_groups"`
	PointFormats        []uint8  `mapstructure:"point_formats"`
	SignatureAlgorithms []uint16 `mapstructure:"signature_algorithms"`
	ServerName          string   `mapstructure:"server_name"`
	SessionIDLength     int      `mapstructure:"session_id_len"`
	// SelectedSuite forces the suite a responder picks
	SelectedSuite uint16 `mapstructure:"selected_suite"`
}

// DefaultOptions offers the ECDHE suites of TLS 1.2
func DefaultOptions(dtls bool) Options {
	o := Options{
		DTLS:                dtls,
		Version:             VersionTLS12,
		RecordVersion:       VersionTLS12,
		CipherSuites:        []uint16{0xc02b, 0xc02f, 0xc009, 0xc013},
		NamedGroups:         []uint16{uint16(elliptic.X25519), uint16(elliptic.P256), uint16(elliptic.P384)},
		PointFormats:        []uint8{0},
		SignatureAlgorithms: []uint16{0x0403, 0x0804, 0x0401},
		SessionIDLength:     32,
	}
	if dtls {
		o.Version = VersionDTLS12
		o.RecordVersion = VersionDTLS12
		o.SessionIDLength = 0
	}
	return o
}

// DecodeOptions overlays raw on the defaults. Numbers may be given as
// strings, "0xc02b" included.
func DecodeOptions(raw map[string]interface{}, dtls bool) (Options, error) {
	o := DefaultOptions(dtls)
	if len(raw) == 0 {
		return o, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &o,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		ErrorUnused:      true,
	})
	if err != nil {
		return o, err
	}
	if err := decoder.Decode(raw); err != nil {
		return o, fmt.Errorf("tls options: %w", err)
	}
	if o.SessionIDLength < 0 || o.SessionIDLength > 32 {
		return o, fmt.Errorf("tls options: session_id_len %d out of range", o.SessionIDLength)
	}
	return o, nil
}

// supportedCurve reports whether keys can be generated for group
func supportedCurve(group uint16) bool {
	switch elliptic.Curve(group) {
	case elliptic.X25519, elliptic.P256, elliptic.P384:
		return true
	}
	return false
}
