//go:build !unix

package runner

import "syscall"

func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
