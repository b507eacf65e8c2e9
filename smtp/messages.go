// Package smtp implements the SMTP family: commands, replies, the EHLO
// extension list and a line layer that picks the reply variant from the last
// command sent.
package smtp

import (
	"github.com/wiretamper/wiretamper/lineproto"
	"github.com/wiretamper/wiretamper/message"
)

const (
	KindInitialGreeting message.Kind = "InitialGreeting"
	KindEhlo            message.Kind = "EHLO"
	KindHelo            message.Kind = "HELO"
	KindMail            message.Kind = "MAIL"
	KindRcpt            message.Kind = "RCPT"
	KindData            message.Kind = "DATA"
	KindQuit            message.Kind = "QUIT"
	KindNoop            message.Kind = "NOOP"
	KindRset            message.Kind = "RSET"
	KindVrfy            message.Kind = "VRFY"
	KindUnknownCommand  message.Kind = "UnknownCommand"
	KindMailContent     message.Kind = "MailContent"
	KindReply           message.Kind = "Reply"
	KindEhloReply       message.Kind = "EhloReply"
)

// InitialGreeting stands for the greeting the server sends before any
// command. It is only a marker for the last command, it never goes on the
// wire.
type InitialGreeting struct {
	message.Base `yaml:",inline"`
}

func (*InitialGreeting) Kind() message.Kind { return KindInitialGreeting }

type Ehlo struct {
	lineproto.Command `yaml:",inline"`
}

func (*Ehlo) Kind() message.Kind { return KindEhlo }

type Helo struct {
	lineproto.Command `yaml:",inline"`
}

func (*Helo) Kind() message.Kind { return KindHelo }

type Mail struct {
	lineproto.Command `yaml:",inline"`
}

func (*Mail) Kind() message.Kind { return KindMail }

type Rcpt struct {
	lineproto.Command `yaml:",inline"`
}

func (*Rcpt) Kind() message.Kind { return KindRcpt }

type Data struct {
	lineproto.Command `yaml:",inline"`
}

func (*Data) Kind() message.Kind { return KindData }

type Quit struct {
	lineproto.Command `yaml:",inline"`
}

func (*Quit) Kind() message.Kind { return KindQuit }

type Noop struct {
	lineproto.Command `yaml:",inline"`
}

func (*Noop) Kind() message.Kind { return KindNoop }

type Rset struct {
	lineproto.Command `yaml:",inline"`
}

func (*Rset) Kind() message.Kind { return KindRset }

type Vrfy struct {
	lineproto.Command `yaml:",inline"`
}

func (*Vrfy) Kind() message.Kind { return KindVrfy }

// UnknownCommand accepts any verb
type UnknownCommand struct {
	lineproto.Command `yaml:",inline"`
}

func (*UnknownCommand) Kind() message.Kind { return KindUnknownCommand }

// MailContent is the message body sent after DATA, without dot stuffing
type MailContent struct {
	message.Base `yaml:",inline"`
	Lines        []string `yaml:"lines,omitempty"`
}

func (*MailContent) Kind() message.Kind { return KindMailContent }

// Reply is any reply: a code and one text per line
type Reply struct {
	message.Base `yaml:",inline"`
	Code         int      `yaml:"code,omitempty"`
	Lines        []string `yaml:"lines,omitempty"`
}

func (*Reply) Kind() message.Kind { return KindReply }

func (r *Reply) reply() *Reply {
	return r
}

// EhloExtension is one service extension line of an EHLO reply
type EhloExtension struct {
	Keyword    string   `yaml:"keyword"`
	Parameters []string `yaml:"parameters,omitempty"`
	// Unknown marks a keyword that is neither registered nor private
	Unknown bool `yaml:"unknown,omitempty"`
}

// EhloReply is the reply to EHLO. A reply with another code than 250 keeps
// only the generic part.
type EhloReply struct {
	Reply      `yaml:",inline"`
	Domain     string          `yaml:"domain,omitempty"`
	Greeting   string          `yaml:"greeting,omitempty"`
	Extensions []EhloExtension `yaml:"extensions,omitempty"`
}

func (*EhloReply) Kind() message.Kind { return KindEhloReply }
