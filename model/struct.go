package model

import (
	"net"
)

// Query lives from the moment a datagram is read until its reply is written
// or the exchange is given up.
type Query struct {
	// SN serial number, the number of request from udp connection
	SN uint64

	// ID transaction id chosen by the client
	ID uint16

	// Key cache key built from the question section
	Key string

	// Packet the raw datagram, never modified
	Packet []byte

	// RemoteAddr the requester udp address
	RemoteAddr *net.UDPAddr

	Response []byte

	Cached bool // when response from the cache, true will be set
}
