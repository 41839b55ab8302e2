// Package secure implements TLS contexts and secure streams: a raw transport
// stream with a TLS session negotiated over it.
//
// A client Context trusts the system roots unless a CA file or pool is
// given. A server Context carries a certificate and private key loaded from
// PEM. Both are immutable and may be shared.
//
// Every failure is an *Error whose Kind tells credential, connect,
// handshake, read, write and closed failures apart:
//
//	if errors.Is(err, secure.ErrHandshake) { ... }
//
// ReadChunk returns io.EOF, unwrapped, when the peer closes the stream in an
// orderly way.
package secure
