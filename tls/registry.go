package tls

import (
	"github.com/wiretamper/wiretamper/message"
)

// NewRegistry registers every message of the family. HelloVerifyRequest only
// exists in dtls.
func NewRegistry(opts Options) *message.Registry {
	name := "tls"
	if opts.DTLS {
		name = "dtls"
	}
	r := message.NewRegistry(name)
	registerHandshake[ClientHello](r, opts.DTLS, clientHelloBody(opts))
	registerHandshake[ServerHello](r, opts.DTLS, serverHelloBody(opts))
	if opts.DTLS {
		registerHandshake[HelloVerifyRequest](r, true, helloVerifyRequestBody(opts))
	}
	registerHandshake[Certificate](r, opts.DTLS, certificateBody)
	registerHandshake[ServerKeyExchange](r, opts.DTLS, serverKeyExchangeBody(opts))
	registerHandshake[ServerHelloDone](r, opts.DTLS, serverHelloDoneBody)
	registerHandshake[ClientKeyExchange](r, opts.DTLS, clientKeyExchangeBody(opts))
	registerHandshake[Finished](r, opts.DTLS, finishedBody)
	message.Register[ChangeCipherSpec](r, changeCipherSpecCodec)
	message.Register[Alert](r, alertCodec)
	message.Register[ApplicationData](r, applicationDataCodec)
	return r
}
