package smtp

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

const codeOK = 250

// registered service extension keywords, private ones start with X
var knownKeywords = map[string]bool{
	"8BITMIME": true, "ATRN": true, "AUTH": true, "BINARYMIME": true,
	"BURL": true, "CHECKPOINT": true, "CHUNKING": true, "CONNEG": true,
	"CONPERM": true, "DELIVERBY": true, "DSN": true, "ENHANCEDSTATUSCODES": true,
	"ETRN": true, "EXPN": true, "FUTURERELEASE": true, "HELP": true,
	"LIMITS": true, "MT-PRIORITY": true, "MTRK": true, "NO-SOLICITING": true,
	"PIPELINING": true, "REQUIRETLS": true, "RRVS": true, "SIZE": true,
	"SMTPUTF8": true, "STARTTLS": true, "SUBMITTER": true, "UTF8SMTP": true,
	"VERB": true, "VRFY": true,
}

func sentByUs(ctx *session.Context) bool {
	return ctx.TalkingSide() == ctx.Role()
}

// NewRegistry registers every smtp variant. Natural command parameters and
// responder texts come from opts.
func NewRegistry(opts Options) *message.Registry {
	r := message.NewRegistry("smtp")

	message.Register[InitialGreeting](r, message.Codec[*InitialGreeting]{
		Handle: func(ctx *session.Context, _ *InitialGreeting) error {
			ctx.SetLastCommand(KindInitialGreeting.String())
			ctx.SetGreetingReceived(false)
			return nil
		},
	})

	identity := func(*session.Context) string { return opts.ClientIdentity }
	lineproto.RegisterCommand[Ehlo](r, lineproto.CommandCodec[*Ehlo]{
		Verb:       "EHLO",
		Parameters: identity,
		Handle: func(ctx *session.Context, m *Ehlo) error {
			return greeted(ctx, m.Parameters)
		},
	})
	lineproto.RegisterCommand[Helo](r, lineproto.CommandCodec[*Helo]{
		Verb:       "HELO",
		Parameters: identity,
		Handle: func(ctx *session.Context, m *Helo) error {
			return greeted(ctx, m.Parameters)
		},
	})
	lineproto.RegisterCommand[Mail](r, lineproto.CommandCodec[*Mail]{
		Verb: "MAIL",
		Parameters: func(*session.Context) string {
			return "FROM:<" + opts.MailFrom + ">"
		},
		Handle: func(ctx *session.Context, m *Mail) error {
			ctx.SetCapability(session.CapReversePath, path(m.Parameters, "FROM:"))
			ctx.SetCapability(session.CapForwardPaths, []string{})
			return nil
		},
	})
	lineproto.RegisterCommand[Rcpt](r, lineproto.CommandCodec[*Rcpt]{
		Verb: "RCPT",
		Parameters: func(*session.Context) string {
			return "TO:<" + opts.RcptTo + ">"
		},
		Handle: func(ctx *session.Context, m *Rcpt) error {
			paths, _ := session.CapabilityOf[[]string](ctx, session.CapForwardPaths)
			ctx.SetCapability(session.CapForwardPaths, append(append([]string{}, paths...), path(m.Parameters, "TO:")))
			return nil
		},
	})
	lineproto.RegisterCommand[Data](r, lineproto.CommandCodec[*Data]{Verb: "DATA"})
	lineproto.RegisterCommand[Quit](r, lineproto.CommandCodec[*Quit]{Verb: "QUIT"})
	lineproto.RegisterCommand[Noop](r, lineproto.CommandCodec[*Noop]{Verb: "NOOP"})
	lineproto.RegisterCommand[Rset](r, lineproto.CommandCodec[*Rset]{
		Verb: "RSET",
		Handle: func(ctx *session.Context, _ *Rset) error {
			resetTransaction(ctx)
			return nil
		},
	})
	lineproto.RegisterCommand[Vrfy](r, lineproto.CommandCodec[*Vrfy]{
		Verb: "VRFY",
		Parameters: func(*session.Context) string {
			return opts.RcptTo
		},
	})
	lineproto.RegisterCommand[UnknownCommand](r, lineproto.CommandCodec[*UnknownCommand]{})

	message.Register[MailContent](r, message.Codec[*MailContent]{
		Parse: func(_ *session.Context, p *parser.Parser, m *MailContent) error {
			lines, err := lineproto.ReadDotLines(p)
			m.Lines = lines
			return err
		},
		Prepare: func(ctx *session.Context, m *MailContent) error {
			lines := m.Lines
			if lines == nil {
				lines = opts.Body
			}
			m.Lines = strings.Split(message.OverridableString(ctx, m, "body", strings.Join(lines, "\n")), "\n")
			return nil
		},
		Serialize: func(m *MailContent, s *serializer.Serializer) {
			lineproto.AppendDotLines(s, m.Lines)
		},
		Handle: func(ctx *session.Context, m *MailContent) error {
			ctx.SetLastCommand(KindMailContent.String())
			return nil
		},
	})

	message.Register[Reply](r, message.Codec[*Reply]{
		Parse: func(ctx *session.Context, p *parser.Parser, m *Reply) error {
			return parseReply(ctx, p, m)
		},
		Prepare: func(ctx *session.Context, m *Reply) error {
			code, text := naturalReply(ctx, opts)
			prepareReply(ctx, m, m.reply(), code, []string{text})
			return nil
		},
		Serialize: func(m *Reply, s *serializer.Serializer) {
			serializeReply(m, s)
		},
		Handle: func(ctx *session.Context, m *Reply) error {
			handleReply(ctx, m)
			return nil
		},
	})

	message.Register[EhloReply](r, message.Codec[*EhloReply]{
		Parse: parseEhloReply,
		Prepare: func(ctx *session.Context, m *EhloReply) error {
			prepareEhloReply(ctx, m, opts)
			return nil
		},
		Serialize: func(m *EhloReply, s *serializer.Serializer) {
			serializeReply(&m.Reply, s)
		},
		Handle: func(ctx *session.Context, m *EhloReply) error {
			handleReply(ctx, &m.Reply)
			if m.Code != codeOK || sentByUs(ctx) {
				return nil
			}
			keywords := make([]string, 0, len(m.Extensions))
			for _, e := range m.Extensions {
				keyword := strings.ToUpper(e.Keyword)
				keywords = append(keywords, keyword)
				if keyword == "AUTH" {
					ctx.SetCapability(session.CapSASLMechanisms, append([]string{}, e.Parameters...))
				}
			}
			ctx.SetCapability(session.CapEhloExtensions, keywords)
			ctx.SetCapability(session.CapServerIdentity, m.Domain)
			return nil
		},
	})
	return r
}

func greeted(ctx *session.Context, identity string) error {
	if !sentByUs(ctx) {
		ctx.SetCapability(session.CapClientIdentity, identity)
	}
	resetTransaction(ctx)
	return nil
}

func resetTransaction(ctx *session.Context) {
	ctx.SetCapability(session.CapReversePath, "")
	ctx.SetCapability(session.CapForwardPaths, []string{})
}

// path extracts the mailbox of a MAIL or RCPT parameter string, dropping
// the angle brackets and any ESMTP parameters
func path(params, prefix string) string {
	if len(params) >= len(prefix) && strings.EqualFold(params[:len(prefix)], prefix) {
		params = params[len(prefix):]
	}
	params = strings.TrimSpace(params)
	if i := strings.IndexByte(params, ' '); i >= 0 {
		params = params[:i]
	}
	return strings.TrimSuffix(strings.TrimPrefix(params, "<"), ">")
}

// parseReply reads reply lines while the separator after the code is a
// dash. A code differing from the first one is logged and ignored.
func parseReply(ctx *session.Context, p *parser.Parser, m *Reply) error {
	m.Lines = nil
	for first := true; ; first = false {
		line, err := lineproto.ReadLine(p)
		if err != nil {
			return err
		}
		if len(line) < 3 {
			return fmt.Errorf("%w: reply line %q", lineproto.ErrMalformedLine, line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return fmt.Errorf("%w: reply code %q", lineproto.ErrMalformedLine, line[:3])
		}
		if first {
			m.Code = code
		} else if code != m.Code {
			message.Warn(ctx, message.UnknownValueWarning{Kind: KindReply, Field: "code", Value: code})
		}
		if len(line) == 3 {
			return nil
		}
		switch line[3] {
		case ' ':
			m.Lines = append(m.Lines, line[4:])
			return nil
		case '-':
			m.Lines = append(m.Lines, line[4:])
		default:
			return fmt.Errorf("%w: separator %q", lineproto.ErrMalformedLine, line[3])
		}
	}
}

func prepareReply(ctx *session.Context, m message.Message, r *Reply, code int, lines []string) {
	if r.Code != 0 {
		code = r.Code
	}
	if r.Lines != nil {
		lines = r.Lines
	}
	r.Code = int(message.OverridableUint(ctx, m, "code", uint64(code)))
	r.Lines = strings.Split(message.OverridableString(ctx, m, "text", strings.Join(lines, "\n")), "\n")
}

func serializeReply(r *Reply, s *serializer.Serializer) {
	code := fmt.Sprintf("%03d", r.Code)
	if len(r.Lines) == 0 {
		s.AppendString(code + lineproto.CRLF)
		return
	}
	for i, l := range r.Lines {
		sep := "-"
		if i == len(r.Lines)-1 {
			sep = " "
		}
		s.AppendString(code + sep + l + lineproto.CRLF)
	}
}

// naturalReply picks what a responder answers to the last command
func naturalReply(ctx *session.Context, opts Options) (int, string) {
	if !ctx.GreetingReceived() {
		return 220, opts.ServerIdentity + " ESMTP wiretamper"
	}
	switch lineproto.LastCommand(ctx, KindInitialGreeting) {
	case KindEhlo, KindHelo:
		return codeOK, opts.ServerIdentity
	case KindData:
		return 354, "End data with <CR><LF>.<CR><LF>"
	case KindQuit:
		return 221, "Bye"
	case KindVrfy:
		return 252, "Cannot VRFY user"
	case KindUnknownCommand:
		return 500, "Command unrecognized"
	}
	return codeOK, "OK"
}

// handleReply marks the greeting as exchanged when the reply answers the
// greeting placeholder
func handleReply(ctx *session.Context, r *Reply) {
	if ctx.GreetingReceived() || lineproto.LastCommand(ctx, KindInitialGreeting) != KindInitialGreeting {
		return
	}
	ctx.SetGreetingReceived(true)
	if sentByUs(ctx) || len(r.Lines) == 0 {
		return
	}
	if fields := strings.Fields(r.Lines[0]); len(fields) > 0 {
		ctx.SetCapability(session.CapServerIdentity, fields[0])
	}
}

func parseEhloReply(ctx *session.Context, p *parser.Parser, m *EhloReply) error {
	if err := parseReply(ctx, p, &m.Reply); err != nil {
		return err
	}
	if m.Code != codeOK || len(m.Lines) == 0 {
		return nil
	}
	m.Domain, m.Greeting, _ = strings.Cut(m.Lines[0], " ")
	for _, line := range m.Lines[1:] {
		ext, ok := parseExtension(line)
		if !ok {
			message.Warn(ctx, message.UnknownValueWarning{Kind: KindEhloReply, Field: "extension", Value: line})
			continue
		}
		if ext.Unknown {
			message.Warn(ctx, message.UnknownValueWarning{Kind: KindEhloReply, Field: "keyword", Value: ext.Keyword})
		}
		m.Extensions = append(m.Extensions, ext)
	}
	return nil
}

// parseExtension reads "keyword [params...]". A keyword must start with a
// letter or digit and contain only those and dashes.
func parseExtension(line string) (EhloExtension, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !validKeyword(fields[0]) {
		return EhloExtension{}, false
	}
	ext := EhloExtension{Keyword: fields[0]}
	if len(fields) > 1 {
		ext.Parameters = fields[1:]
	}
	keyword := strings.ToUpper(ext.Keyword)
	ext.Unknown = !knownKeywords[keyword] && !strings.HasPrefix(keyword, "X")
	return ext, true
}

func validKeyword(k string) bool {
	for i, c := range k {
		alnum := c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		if !alnum && (i == 0 || c != '-') {
			return false
		}
	}
	return true
}

func prepareEhloReply(ctx *session.Context, m *EhloReply, opts Options) {
	domain := m.Domain
	if domain == "" {
		domain = opts.ServerIdentity
	}
	greeting := m.Greeting
	if greeting == "" {
		greeting = "Hello"
		if client, ok := session.CapabilityOf[string](ctx, session.CapClientIdentity); ok && client != "" {
			greeting = "greets " + client
		}
	}
	m.Domain = message.OverridableString(ctx, m, "domain", domain)
	m.Greeting = message.OverridableString(ctx, m, "greeting", greeting)
	if m.Extensions == nil {
		for _, line := range opts.Extensions {
			if ext, ok := parseExtension(line); ok {
				m.Extensions = append(m.Extensions, ext)
			}
		}
	}

	first := m.Domain
	if m.Greeting != "" {
		first += " " + m.Greeting
	}
	lines := []string{first}
	for _, e := range m.Extensions {
		lines = append(lines, strings.Join(append([]string{e.Keyword}, e.Parameters...), " "))
	}
	prepareReply(ctx, m, &m.Reply, codeOK, lines)
}
