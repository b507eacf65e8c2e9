package smtp

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Options of the smtp family, decoded from the options map of the config
type Options struct {
	// ClientIdentity is the domain sent with EHLO and HELO
	ClientIdentity string `mapstructure:"client_identity"`
	// ServerIdentity is the domain a responder announces
	ServerIdentity string `mapstructure:"server_identity"`
	MailFrom       string `mapstructure:"mail_from"`
	RcptTo         string `mapstructure:"rcpt_to"`
	// Extensions a responder lists in its EHLO reply
	Extensions []string `mapstructure:"extensions"`
	// Body sent after DATA
	Body []string `mapstructure:"body"`
}

func DefaultOptions() Options {
	return Options{
		ClientIdentity: "client.wiretamper.test",
		ServerIdentity: "mx.wiretamper.test",
		MailFrom:       "alice@wiretamper.test",
		RcptTo:         "bob@wiretamper.test",
		Extensions:     []string{"8BITMIME", "SIZE 10240000", "AUTH PLAIN LOGIN", "PIPELINING"},
		Body:           []string{"Subject: wiretamper", "", "hello"},
	}
}

// DecodeOptions overlays raw on the defaults
func DecodeOptions(raw map[string]interface{}) (Options, error) {
	o := DefaultOptions()
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
		return o, fmt.Errorf("smtp options: %w", err)
	}
	if o.ClientIdentity == "" {
		return o, fmt.Errorf("smtp options: empty client_identity")
	}
	return o, nil
}
