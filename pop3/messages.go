// Package pop3 implements the POP3 family. Replies are status lines, those
// answering RETR and a bare LIST carry a dot terminated body.
package pop3

import (
	"github.com/wiretamper/wiretamper/lineproto"
	"github.com/wiretamper/wiretamper/message"
)

const (
	KindGreeting       message.Kind = "Greeting"
	KindUser           message.Kind = "USER"
	KindPass           message.Kind = "PASS"
	KindStat           message.Kind = "STAT"
	KindList           message.Kind = "LIST"
	KindRetr           message.Kind = "RETR"
	KindDele           message.Kind = "DELE"
	KindNoop           message.Kind = "NOOP"
	KindQuit           message.Kind = "QUIT"
	KindUnknownCommand message.Kind = "UnknownCommand"
	KindReply          message.Kind = "Reply"
	KindStatReply      message.Kind = "StatReply"
)

// Status indicators
const (
	StatusOK  = "+OK"
	StatusErr = "-ERR"
)

// Greeting marks the state before the server greeting. It never goes on the
// wire.
type Greeting struct {
	message.Base `yaml:",inline"`
}

func (*Greeting) Kind() message.Kind { return KindGreeting }

type User struct {
	lineproto.Command `yaml:",inline"`
}

func (*User) Kind() message.Kind { return KindUser }

type Pass struct {
	lineproto.Command `yaml:",inline"`
}

func (*Pass) Kind() message.Kind { return KindPass }

type Stat struct {
	lineproto.Command `yaml:",inline"`
}

func (*Stat) Kind() message.Kind { return KindStat }

// List without parameters asks for a scan listing of every message
type List struct {
	lineproto.Command `yaml:",inline"`
}

func (*List) Kind() message.Kind { return KindList }

type Retr struct {
	lineproto.Command `yaml:",inline"`
}

func (*Retr) Kind() message.Kind { return KindRetr }

type Dele struct {
	lineproto.Command `yaml:",inline"`
}

func (*Dele) Kind() message.Kind { return KindDele }

type Noop struct {
	lineproto.Command `yaml:",inline"`
}

func (*Noop) Kind() message.Kind { return KindNoop }

type Quit struct {
	lineproto.Command `yaml:",inline"`
}

func (*Quit) Kind() message.Kind { return KindQuit }

type UnknownCommand struct {
	lineproto.Command `yaml:",inline"`
}

func (*UnknownCommand) Kind() message.Kind { return KindUnknownCommand }

// Reply is a status line with an optional multi-line body
type Reply struct {
	message.Base `yaml:",inline"`
	Status       string   `yaml:"status,omitempty"`
	Text         string   `yaml:"text,omitempty"`
	Lines        []string `yaml:"lines,omitempty"`
}

func (*Reply) Kind() message.Kind { return KindReply }

func (r *Reply) OK() bool {
	return r.Status == StatusOK
}

// StatReply answers STAT with the size of the maildrop
type StatReply struct {
	message.Base `yaml:",inline"`
	Status       string `yaml:"status,omitempty"`
	Count        uint64 `yaml:"count"`
	Octets       uint64 `yaml:"octets"`
}

func (*StatReply) Kind() message.Kind { return KindStatReply }

// MailboxStat is what a StatReply tells about the maildrop
type MailboxStat struct {
	Count  uint64
	Octets uint64
}
