package message

import (
	"fmt"

	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// Parser parses one message of a fixed variant from the cursor
type Parser interface {
	Parse(p *parser.Parser) (Message, error)
}

// Preparator fills the fields of a message from the session. It never writes
// to the session.
type Preparator interface {
	Prepare(m Message) error
}

// Serializer renders a prepared message
type Serializer interface {
	Serialize(m Message) ([]byte, error)
	AlreadySerialized() []byte
}

// Handler applies a parsed or sent message to the session
type Handler interface {
	Adjust(m Message) error
}

// Codec holds the typed functions of one variant. A nil Parse makes the
// variant unparseable, nil Prepare and Handle are no-ops.
type Codec[M Message] struct {
	Parse     func(ctx *session.Context, p *parser.Parser, m M) error
	Prepare   func(ctx *session.Context, m M) error
	Serialize func(m M, s *serializer.Serializer)
	Handle    func(ctx *session.Context, m M) error
}

type variant struct {
	kind      Kind
	new       func() Message
	clone     func(Message) (Message, bool)
	parse     func(*session.Context, *parser.Parser, Message) error
	prepare   func(*session.Context, Message) error
	serialize func(Message, *serializer.Serializer) error
	handle    func(*session.Context, Message) error
}

// Registry resolves kinds of one protocol family to their capabilities
type Registry struct {
	protocol string
	variants map[Kind]*variant
	order    []Kind
}

// NewRegistry creates a registry that already knows the Unknown variant
func NewRegistry(protocol string) *Registry {
	r := &Registry{
		protocol: protocol,
		variants: make(map[Kind]*variant),
		order:    make([]Kind, 0),
	}
	Register[Unknown](r, unknownCodec)
	return r
}

// Register adds the variant *S. Registering a kind twice replaces it.
func Register[S any, M interface {
	*S
	Message
}](r *Registry, c Codec[M]) {
	kind := M(new(S)).Kind()
	v := &variant{
		kind: kind,
		new: func() Message {
			return M(new(S))
		},
		clone: func(m Message) (Message, bool) {
			src, ok := m.(M)
			if !ok {
				return nil, false
			}
			cp := new(S)
			*cp = *(*S)(src)
			return M(cp), true
		},
	}
	if c.Parse != nil {
		v.parse = func(ctx *session.Context, p *parser.Parser, m Message) error {
			typed, ok := m.(M)
			if !ok {
				return ErrWrongVariant
			}
			return c.Parse(ctx, p, typed)
		}
	}
	if c.Prepare != nil {
		v.prepare = func(ctx *session.Context, m Message) error {
			typed, ok := m.(M)
			if !ok {
				return ErrWrongVariant
			}
			return c.Prepare(ctx, typed)
		}
	}
	if c.Serialize != nil {
		v.serialize = func(m Message, s *serializer.Serializer) error {
			typed, ok := m.(M)
			if !ok {
				return ErrWrongVariant
			}
			c.Serialize(typed, s)
			return nil
		}
	}
	if c.Handle != nil {
		v.handle = func(ctx *session.Context, m Message) error {
			typed, ok := m.(M)
			if !ok {
				return ErrWrongVariant
			}
			return c.Handle(ctx, typed)
		}
	}
	if _, exists := r.variants[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.variants[kind] = v
}

// Protocol returns the name of the family the registry belongs to
func (r *Registry) Protocol() string {
	return r.protocol
}

// Kinds lists every registered kind in registration order
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether kind is registered
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.variants[kind]
	return ok
}

func (r *Registry) lookup(kind Kind) (*variant, error) {
	v, ok := r.variants[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownKind, r.protocol, kind)
	}
	return v, nil
}

// New creates an empty message of kind
func (r *Registry) New(kind Kind) (Message, error) {
	v, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return v.new(), nil
}

// Clone returns a shallow copy of m. Field slices are shared, preparators
// assign new slices instead of writing into them.
func (r *Registry) Clone(m Message) (Message, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	v, err := r.lookup(m.Kind())
	if err != nil {
		return nil, err
	}
	cp, ok := v.clone(m)
	if !ok {
		return nil, ErrWrongVariant
	}
	return cp, nil
}

// ParserFor returns the parser of kind bound to ctx
func (r *Registry) ParserFor(ctx *session.Context, kind Kind) (Parser, error) {
	v, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return &boundParser{v: v, ctx: ctx}, nil
}

// PreparatorFor returns the preparator of kind bound to ctx
func (r *Registry) PreparatorFor(ctx *session.Context, kind Kind) (Preparator, error) {
	v, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return &boundPreparator{v: v, ctx: ctx}, nil
}

// SerializerFor returns a fresh serializer of kind
func (r *Registry) SerializerFor(_ *session.Context, kind Kind) (Serializer, error) {
	v, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return &boundSerializer{v: v, out: serializer.New()}, nil
}

// HandlerFor returns the handler of kind bound to ctx
func (r *Registry) HandlerFor(ctx *session.Context, kind Kind) (Handler, error) {
	v, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return &boundHandler{v: v, ctx: ctx}, nil
}

type boundParser struct {
	v   *variant
	ctx *session.Context
}

func (b *boundParser) Parse(p *parser.Parser) (Message, error) {
	if b.v.parse == nil {
		return nil, fmt.Errorf("%w: parsing %s", ErrUnsupportedOperation, b.v.kind)
	}
	m := b.v.new()
	start := p.Cursor()
	if err := b.v.parse(b.ctx, p, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", b.v.kind, err)
	}
	m.Common().SetCompleteResultingBytes(p.Consumed(start))
	return m, nil
}

type boundPreparator struct {
	v   *variant
	ctx *session.Context
}

func (b *boundPreparator) Prepare(m Message) error {
	if m == nil {
		return &PreparationError{Kind: b.v.kind, Err: ErrNilMessage}
	}
	if m.Kind() != b.v.kind {
		return &PreparationError{Kind: b.v.kind, Err: ErrWrongVariant}
	}
	if b.v.prepare == nil {
		return nil
	}
	if err := b.v.prepare(b.ctx, m); err != nil {
		return NewPreparationError(b.v.kind, err)
	}
	return nil
}

type boundSerializer struct {
	v   *variant
	out *serializer.Serializer
}

func (b *boundSerializer) Serialize(m Message) ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	if b.v.serialize == nil {
		return nil, fmt.Errorf("%w: serializing %s", ErrUnsupportedOperation, b.v.kind)
	}
	if err := b.v.serialize(m, b.out); err != nil {
		return nil, err
	}
	return b.out.Bytes(), nil
}

func (b *boundSerializer) AlreadySerialized() []byte {
	return b.out.AlreadySerialized()
}

type boundHandler struct {
	v   *variant
	ctx *session.Context
}

func (b *boundHandler) Adjust(m Message) error {
	if m == nil {
		return ErrNilMessage
	}
	if b.v.handle == nil {
		return nil
	}
	return b.v.handle(b.ctx, m)
}
