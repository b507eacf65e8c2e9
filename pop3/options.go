package pop3

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Options of the pop3 family
type Options struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// Message is the number RETR and DELE ask for
	Message int `mapstructure:"message"`
	// Maildrop is what a responder serves, one entry per message with LF
	// separated lines
	Maildrop []string `mapstructure:"maildrop"`
}

func DefaultOptions() Options {
	return Options{
		User:     "wiretamper",
		Password: "wiretamper",
		Message:  1,
		Maildrop: []string{"Subject: first\n\nhello", "Subject: second\n\n.dotted\nbye"},
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
		return o, fmt.Errorf("pop3 options: %w", err)
	}
	if o.Message < 1 {
		return o, fmt.Errorf("pop3 options: message number %d below 1", o.Message)
	}
	return o, nil
}

// octets is the size of message i on the wire, CRLF line ends included
func (o Options) octets(i int) uint64 {
	n := 0
	for _, l := range o.lines(i) {
		n += len(l) + 2
	}
	return uint64(n)
}

func (o Options) lines(i int) []string {
	if i < 0 || i >= len(o.Maildrop) {
		return nil
	}
	return splitLines(o.Maildrop[i])
}
