package quic

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/wiretamper/wiretamper/message"
)

// Version1 is the QUIC version of RFC 9000
const Version1 uint32 = 0x00000001

// Options of the quic family. Connection ids are given as hex strings.
type Options struct {
	Version            uint32        `mapstructure:"version"`
	DCID               message.Bytes `mapstructure:"dcid"`
	SCID               message.Bytes `mapstructure:"scid"`
	PacketNumberLength int           `mapstructure:"packet_number_len"`
}

func randomID() message.Bytes {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %s", err))
	}
	return b
}

// DefaultOptions uses random eight byte connection ids
func DefaultOptions() Options {
	return Options{
		Version:            Version1,
		DCID:               randomID(),
		SCID:               randomID(),
		PacketNumberLength: 1,
	}
}

var bytesType = reflect.TypeOf(message.Bytes{})

func hexHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != bytesType || from.Kind() != reflect.String {
		return data, nil
	}
	return hex.DecodeString(data.(string))
}

func DecodeOptions(raw map[string]interface{}) (Options, error) {
	o := DefaultOptions()
	if len(raw) == 0 {
		return o, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       hexHook,
		Result:           &o,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		ErrorUnused:      true,
	})
	if err != nil {
		return o, err
	}
	if err := decoder.Decode(raw); err != nil {
		return o, fmt.Errorf("quic options: %w", err)
	}
	if o.PacketNumberLength < 1 || o.PacketNumberLength > 4 {
		return o, fmt.Errorf("quic options: packet_number_len %d out of range", o.PacketNumberLength)
	}
	if len(o.DCID) > 20 || len(o.SCID) > 20 {
		return o, fmt.Errorf("quic options: connection ids are at most 20 bytes")
	}
	return o, nil
}
