//go:build !linux
// +build !linux

package sameuser

import "net"

// CanAccept always returns true on systems without /proc/net.
func CanAccept(listenAddr, localAddr, remoteAddr net.Addr) bool {
	return true
}
