// Package transport defines the raw stream transports a secure session can
// run over and provides implementations in subpackages:
//
//   - tcp: plain TCP, optionally dialed through a SOCKS5 proxy
//   - quic: QUIC streams; TLS 1.3 is negotiated by the transport itself
//   - mem: in-process pipes, for tests
//   - winpipe: Windows named pipes
//
// Transports hand out net.Conn values. Everything above them (TLS, session
// lifecycle, message dispatch) is transport agnostic.
package transport
