// Package scert manages the certificate authorities
// that an instance trusts for its realm.
//
// Every connection between instances is mutually authenticated TLS,
// whether it runs over WebSocket or QUIC.
// A [Pool] is the live set of trusted realm CAs;
// it can change while connections are open,
// and connections whose peer chains to a removed CA
// are told to close through [*Pool.NotifyRemoval].
package scert
