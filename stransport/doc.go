// Package stransport abstracts the physical link under an instance connection.
//
// A [Transport] moves whole messages.
// Instance connections use binary messages,
// each carrying one encoded envelope;
// the other message kinds exist for the control traffic
// that WebSocket links carry.
//
// Implementations exist for gorilla WebSocket connections ([WebSocket])
// and QUIC datagrams ([Datagram]);
// package stransporttest has an in-memory pipe for tests.
package stransport
