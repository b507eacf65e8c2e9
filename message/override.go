package message

import (
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/session"
)

// Overridable passes the natural value of a byte field through the message
// overrides and then through the run hook. Every preparator routes its
// overridable fields through here.
func Overridable(ctx *session.Context, m Message, name string, natural []byte) []byte {
	v := m.Common().Overrides.ApplyBytes(modvar.Field(name), natural)
	return ctx.Hook().ApplyBytes(modvar.Qualify(m.Kind().String(), name), v)
}

// OverridableUint is Overridable for integer fields
func OverridableUint(ctx *session.Context, m Message, name string, natural uint64) uint64 {
	v := m.Common().Overrides.ApplyUint(modvar.Field(name), natural)
	return ctx.Hook().ApplyUint(modvar.Qualify(m.Kind().String(), name), v)
}

func OverridableUint8(ctx *session.Context, m Message, name string, natural uint8) uint8 {
	return uint8(OverridableUint(ctx, m, name, uint64(natural)))
}

func OverridableUint16(ctx *session.Context, m Message, name string, natural uint16) uint16 {
	return uint16(OverridableUint(ctx, m, name, uint64(natural)))
}

func OverridableUint32(ctx *session.Context, m Message, name string, natural uint32) uint32 {
	return uint32(OverridableUint(ctx, m, name, uint64(natural)))
}

// OverridableString is Overridable for text fields of line based protocols
func OverridableString(ctx *session.Context, m Message, name string, natural string) string {
	return string(Overridable(ctx, m, name, []byte(natural)))
}
