//go:build !debug

package qr

// DefaultDomain is the rendezvous domain used when a credential names no entry point.
const DefaultDomain = "paircloud.io"
