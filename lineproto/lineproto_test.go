package lineproto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
)

func TestReadLine(t *testing.T) {
	p := parser.New([]byte("EHLO a.test\r\nNOOP\n"), 0)
	line, err := ReadLine(p)
	require.NoError(t, err)
	assert.Equal(t, "EHLO a.test", line)
	line, err = ReadLine(p)
	require.NoError(t, err)
	assert.Equal(t, "NOOP", line)

	_, err = ReadLine(parser.New([]byte("QUIT"), 0))
	assert.ErrorIs(t, err, parser.ErrTruncatedInput)

	long := parser.New([]byte(strings.Repeat("a", MaxLineLength)+"\r\n"), 0)
	_, err = ReadLine(long)
	assert.ErrorIs(t, err, parser.ErrConstraintViolated)
	assert.Equal(t, 0, long.Depth())
}

func TestCommandHelpers(t *testing.T) {
	verb, params := SplitCommand("MAIL FROM:<a@b.test> SIZE=10")
	assert.Equal(t, "MAIL", verb)
	assert.Equal(t, "FROM:<a@b.test> SIZE=10", params)
	assert.Equal(t, "RETR", Verb([]byte("retr 1\r\n")))
}

func TestDotLinesRoundTrip(t *testing.T) {
	lines := []string{"Subject: hi", "", ".hidden", "bye"}
	s := serializer.New()
	AppendDotLines(s, lines)
	assert.Equal(t, "Subject: hi\r\n\r\n..hidden\r\nbye\r\n.\r\n", string(s.Bytes()))

	back, err := ReadDotLines(parser.New(s.Bytes(), 0))
	require.NoError(t, err)
	assert.Equal(t, lines, back)
}
