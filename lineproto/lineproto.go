// Package lineproto holds the pieces shared by the CRLF line based families:
// command lines, dot terminated bodies and the generic command codec.
package lineproto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

var (
	// ErrUnexpectedCommand is returned when a line carries another verb
	ErrUnexpectedCommand = errors.New("unexpected command")
	// ErrMalformedLine is returned for lines that do not follow the grammar
	ErrMalformedLine = errors.New("malformed line")
)

const CRLF = "\r\n"

// MaxLineLength bounds a single line including its ending
const MaxLineLength = 1 << 13

// Command is one command line: a verb and its unparsed parameters
type Command struct {
	message.Base `yaml:",inline"`
	Verb         string `yaml:"verb,omitempty"`
	Parameters   string `yaml:"parameters,omitempty"`
}

func (c *Command) CommandLine() *Command {
	return c
}

// Commander is implemented by every command variant
type Commander interface {
	message.Message
	CommandLine() *Command
}

// CommandCodec describes one command variant. An empty Verb accepts any verb
// when parsing.
type CommandCodec[M Commander] struct {
	Verb string
	// Parameters returns the natural parameters, nil means none
	Parameters func(ctx *session.Context) string
	// Handle runs after the last command was recorded
	Handle func(ctx *session.Context, m M) error
}

// RegisterCommand registers the variant *S. Its handler records the kind as
// the last command on both sides of the conversation.
func RegisterCommand[S any, M interface {
	*S
	Commander
}](r *message.Registry, c CommandCodec[M]) {
	message.Register[S, M](r, message.Codec[M]{
		Parse: func(_ *session.Context, p *parser.Parser, m M) error {
			line, err := ReadLine(p)
			if err != nil {
				return err
			}
			verb, params := SplitCommand(line)
			if c.Verb != "" && !strings.EqualFold(verb, c.Verb) {
				return fmt.Errorf("%w: %q instead of %s", ErrUnexpectedCommand, verb, c.Verb)
			}
			cmd := m.CommandLine()
			cmd.Verb = verb
			cmd.Parameters = params
			return nil
		},
		Prepare: func(ctx *session.Context, m M) error {
			cmd := m.CommandLine()
			verb := cmd.Verb
			if verb == "" {
				verb = c.Verb
			}
			params := cmd.Parameters
			if params == "" && c.Parameters != nil {
				params = c.Parameters(ctx)
			}
			cmd.Verb = message.OverridableString(ctx, m, "verb", verb)
			cmd.Parameters = message.OverridableString(ctx, m, "parameters", params)
			return nil
		},
		Serialize: func(m M, s *serializer.Serializer) {
			cmd := m.CommandLine()
			s.AppendString(cmd.Verb)
			if cmd.Parameters != "" {
				s.AppendString(" " + cmd.Parameters)
			}
			s.AppendString(CRLF)
		},
		Handle: func(ctx *session.Context, m M) error {
			ctx.SetLastCommand(m.Kind().String())
			if c.Handle == nil {
				return nil
			}
			return c.Handle(ctx, m)
		},
	})
}

// ReadLine reads one line and strips its line ending. A bare LF is accepted.
func ReadLine(p *parser.Parser) (string, error) {
	p.PushContext(parser.MaxRead("line", MaxLineLength))
	raw, err := p.ReadUntilByte('\n')
	p.PopContext()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r"), nil
}

// SplitCommand cuts a command line into verb and parameters
func SplitCommand(line string) (string, string) {
	verb, params, _ := strings.Cut(line, " ")
	return verb, params
}

// Verb returns the upper cased verb of a raw command line
func Verb(raw []byte) string {
	line := strings.TrimRight(string(raw), CRLF)
	verb, _ := SplitCommand(line)
	return strings.ToUpper(verb)
}

// ReadDotLines reads a dot terminated body and undoes dot stuffing
func ReadDotLines(p *parser.Parser) ([]string, error) {
	lines := make([]string, 0)
	for {
		line, err := ReadLine(p)
		if err != nil {
			return nil, err
		}
		if line == "." {
			return lines, nil
		}
		lines = append(lines, strings.TrimPrefix(line, "."))
	}
}

// AppendDotLines writes lines with dot stuffing and the end marker
func AppendDotLines(s *serializer.Serializer, lines []string) {
	for _, l := range lines {
		if strings.HasPrefix(l, ".") {
			s.AppendString(".")
		}
		s.AppendString(l + CRLF)
	}
	s.AppendString("." + CRLF)
}

// LastCommand returns the last command recorded in the session or fallback
// when nothing was recorded yet
func LastCommand(ctx *session.Context, fallback message.Kind) message.Kind {
	if last := ctx.LastCommand(); last != "" {
		return message.Kind(last)
	}
	return fallback
}
