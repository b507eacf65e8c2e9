package pop3

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wiretamper/wiretamper/lineproto"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// lastListEntry is recorded instead of LIST when a single message is listed
const lastListEntry = "ListEntry"

func sentByUs(ctx *session.Context) bool {
	return ctx.TalkingSide() == ctx.Role()
}

func splitLines(s string) []string {
	return strings.Split(s, "\n")
}

// NewRegistry registers every pop3 variant
func NewRegistry(opts Options) *message.Registry {
	r := message.NewRegistry("pop3")

	message.Register[Greeting](r, message.Codec[*Greeting]{
		Handle: func(ctx *session.Context, _ *Greeting) error {
			ctx.SetLastCommand(KindGreeting.String())
			ctx.SetGreetingReceived(false)
			return nil
		},
	})

	selected := func(*session.Context) string { return strconv.Itoa(opts.Message) }
	lineproto.RegisterCommand[User](r, lineproto.CommandCodec[*User]{
		Verb:       "USER",
		Parameters: func(*session.Context) string { return opts.User },
		Handle: func(ctx *session.Context, m *User) error {
			ctx.SetCapability(session.CapPOP3User, m.Parameters)
			return nil
		},
	})
	lineproto.RegisterCommand[Pass](r, lineproto.CommandCodec[*Pass]{
		Verb:       "PASS",
		Parameters: func(*session.Context) string { return opts.Password },
	})
	lineproto.RegisterCommand[Stat](r, lineproto.CommandCodec[*Stat]{Verb: "STAT"})
	lineproto.RegisterCommand[List](r, lineproto.CommandCodec[*List]{
		Verb: "LIST",
		Handle: func(ctx *session.Context, m *List) error {
			if m.Parameters != "" {
				ctx.SetLastCommand(lastListEntry)
				ctx.SetCapability(session.CapPOP3Selected, m.Parameters)
			}
			return nil
		},
	})
	lineproto.RegisterCommand[Retr](r, lineproto.CommandCodec[*Retr]{
		Verb:       "RETR",
		Parameters: selected,
		Handle: func(ctx *session.Context, m *Retr) error {
			ctx.SetCapability(session.CapPOP3Selected, m.Parameters)
			return nil
		},
	})
	lineproto.RegisterCommand[Dele](r, lineproto.CommandCodec[*Dele]{
		Verb:       "DELE",
		Parameters: selected,
		Handle: func(ctx *session.Context, m *Dele) error {
			ctx.SetCapability(session.CapPOP3Selected, m.Parameters)
			return nil
		},
	})
	lineproto.RegisterCommand[Noop](r, lineproto.CommandCodec[*Noop]{Verb: "NOOP"})
	lineproto.RegisterCommand[Quit](r, lineproto.CommandCodec[*Quit]{Verb: "QUIT"})
	lineproto.RegisterCommand[UnknownCommand](r, lineproto.CommandCodec[*UnknownCommand]{})

	message.Register[Reply](r, message.Codec[*Reply]{
		Parse: parseReply,
		Prepare: func(ctx *session.Context, m *Reply) error {
			status, text, lines := naturalReply(ctx, opts)
			if m.Status != "" {
				status = m.Status
			}
			if m.Text != "" {
				text = m.Text
			}
			if m.Lines != nil {
				lines = m.Lines
			}
			m.Status = message.OverridableString(ctx, m, "status", status)
			m.Text = message.OverridableString(ctx, m, "text", text)
			if lines != nil {
				lines = splitLines(message.OverridableString(ctx, m, "body", strings.Join(lines, "\n")))
			}
			m.Lines = lines
			return nil
		},
		Serialize: func(m *Reply, s *serializer.Serializer) {
			statusLine(s, m.Status, m.Text)
			if m.Lines != nil {
				lineproto.AppendDotLines(s, m.Lines)
			}
		},
		Handle: func(ctx *session.Context, m *Reply) error {
			last := lineproto.LastCommand(ctx, KindGreeting)
			if !ctx.GreetingReceived() && last == KindGreeting {
				ctx.SetGreetingReceived(true)
			}
			return nil
		},
	})

	message.Register[StatReply](r, message.Codec[*StatReply]{
		Parse: parseStatReply,
		Prepare: func(ctx *session.Context, m *StatReply) error {
			status := m.Status
			if status == "" {
				status = StatusOK
			}
			count, octets := m.Count, m.Octets
			if count == 0 && octets == 0 {
				count = uint64(len(opts.Maildrop))
				for i := range opts.Maildrop {
					octets += opts.octets(i)
				}
			}
			m.Status = message.OverridableString(ctx, m, "status", status)
			m.Count = message.OverridableUint(ctx, m, "count", count)
			m.Octets = message.OverridableUint(ctx, m, "octets", octets)
			return nil
		},
		Serialize: func(m *StatReply, s *serializer.Serializer) {
			statusLine(s, m.Status, fmt.Sprintf("%d %d", m.Count, m.Octets))
		},
		Handle: func(ctx *session.Context, m *StatReply) error {
			if !sentByUs(ctx) {
				ctx.SetCapability(session.CapMailboxStat, MailboxStat{Count: m.Count, Octets: m.Octets})
			}
			return nil
		},
	})
	return r
}

func statusLine(s *serializer.Serializer, status, text string) {
	s.AppendString(status)
	if text != "" {
		s.AppendString(" " + text)
	}
	s.AppendString(lineproto.CRLF)
}

func readStatus(p *parser.Parser) (string, string, error) {
	line, err := lineproto.ReadLine(p)
	if err != nil {
		return "", "", err
	}
	status, text, _ := strings.Cut(line, " ")
	if status != StatusOK && status != StatusErr {
		return "", "", fmt.Errorf("%w: status %q", lineproto.ErrMalformedLine, status)
	}
	return status, text, nil
}

// parseReply reads the status line and, when the unit holds more, the dot
// terminated body
func parseReply(_ *session.Context, p *parser.Parser, m *Reply) error {
	status, text, err := readStatus(p)
	if err != nil {
		return err
	}
	m.Status, m.Text = status, text
	if p.Remaining() == 0 {
		return nil
	}
	m.Lines, err = lineproto.ReadDotLines(p)
	return err
}

func parseStatReply(_ *session.Context, p *parser.Parser, m *StatReply) error {
	status, text, err := readStatus(p)
	if err != nil {
		return err
	}
	fields := strings.Fields(text)
	if status != StatusOK || len(fields) < 2 {
		return fmt.Errorf("%w: stat reply %q", lineproto.ErrMalformedLine, text)
	}
	m.Status = status
	if m.Count, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
		return fmt.Errorf("%w: count %q", lineproto.ErrMalformedLine, fields[0])
	}
	if m.Octets, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
		return fmt.Errorf("%w: octets %q", lineproto.ErrMalformedLine, fields[1])
	}
	return nil
}

// naturalReply is what a responder answers to the last command. Only RETR
// and a bare LIST get a body.
func naturalReply(ctx *session.Context, opts Options) (string, string, []string) {
	if !ctx.GreetingReceived() {
		return StatusOK, "POP3 wiretamper ready", nil
	}
	index := -1
	if sel, ok := session.CapabilityOf[string](ctx, session.CapPOP3Selected); ok {
		if n, err := strconv.Atoi(sel); err == nil {
			index = n - 1
		}
	}
	inRange := index >= 0 && index < len(opts.Maildrop)
	switch lineproto.LastCommand(ctx, KindGreeting) {
	case KindUser:
		return StatusOK, "send PASS", nil
	case KindPass:
		return StatusOK, "maildrop locked and ready", nil
	case KindList:
		scan := make([]string, 0, len(opts.Maildrop))
		for i := range opts.Maildrop {
			scan = append(scan, fmt.Sprintf("%d %d", i+1, opts.octets(i)))
		}
		return StatusOK, fmt.Sprintf("%d messages", len(opts.Maildrop)), scan
	case lastListEntry:
		if !inRange {
			return StatusErr, "no such message", nil
		}
		return StatusOK, fmt.Sprintf("%d %d", index+1, opts.octets(index)), nil
	case KindRetr:
		if !inRange {
			return StatusErr, "no such message", nil
		}
		return StatusOK, fmt.Sprintf("%d octets", opts.octets(index)), opts.lines(index)
	case KindDele:
		if !inRange {
			return StatusErr, "no such message", nil
		}
		return StatusOK, "message deleted", nil
	case KindQuit:
		return StatusOK, "bye", nil
	case KindUnknownCommand:
		return StatusErr, "unknown command", nil
	}
	return StatusOK, "", nil
}
