//go:build linux
// +build linux

// Package sameuser checks that connections to a runner listening on the
// loopback interface come from the user that started it.
package sameuser

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/go-delve/stardbg/pkg/logflags"
)

// for testing
var (
	uid      = os.Getuid()
	readFile = os.ReadFile
)

type errConnectionNotFound struct {
	table string
}

func (e *errConnectionNotFound) Error() string {
	return fmt.Sprintf("connection not found in %s", e.table)
}

// socketEntry is a row of /proc/net/tcp or /proc/net/tcp6.
type socketEntry struct {
	local, remote string
	uid           uint
}

func parseSocketTable(buf []byte) []socketEntry {
	var r []socketEntry
	for _, line := range strings.Split(strings.TrimSpace(string(buf)), "\n") {
		var (
			sl            int
			local, remote string
			state         int
			queue, timer  string
			retransmit    int
			owner         uint
		)
		// The kernel pads fields with spaces (%4d, %5u) so the line can not
		// be split on whitespace.
		n, err := fmt.Sscanf(line, "%4d: %s %s %02X %s %s %08X %d",
			&sl, &local, &remote, &state, &queue, &timer, &retransmit, &owner)
		if n != 8 || err != nil {
			continue // header line
		}
		r = append(r, socketEntry{local: local, remote: remote, uid: owner})
	}
	return r
}

// ownerOf returns the uid owning the client side of the connection
// (server, client) as listed by table.
func ownerOf(table, server, client string) (uint, error) {
	buf, err := readFile(table)
	if err != nil {
		return 0, err
	}
	for _, e := range parseSocketTable(buf) {
		// The client socket has the addresses swapped.
		if e.local == client && e.remote == server {
			return e.uid, nil
		}
	}
	return 0, &errConnectionNotFound{table}
}

func hex4(addr *net.TCPAddr) string {
	b := addr.IP.To4()
	return fmt.Sprintf("%02X%02X%02X%02X:%04X", b[3], b[2], b[1], b[0], addr.Port)
}

func hex6(addr *net.TCPAddr) string {
	words := make([]uint32, 4)
	if err := binary.Read(bytes.NewReader(addr.IP.To16()), binary.LittleEndian, words); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%08X%08X%08X%08X:%04X", words[0], words[1], words[2], words[3], addr.Port)
}

func remoteOwner(local, remote *net.TCPAddr) (uint, error) {
	if remote.IP.To4() == nil {
		return ownerOf("/proc/net/tcp6", hex6(local), hex6(remote))
	}
	owner, err := ownerOf("/proc/net/tcp", hex4(local), hex4(remote))
	if _, notFound := err.(*errConnectionNotFound); notFound {
		// IPv4 connections to a dual stack socket are listed as mapped
		// addresses in tcp6.
		const mapped = "0000000000000000FFFF0000"
		if owner, err2 := ownerOf("/proc/net/tcp6", mapped+hex4(local), mapped+hex4(remote)); err2 == nil {
			return owner, nil
		}
	}
	return owner, err
}

func sameUser(local, remote *net.TCPAddr) (bool, error) {
	owner, err := remoteOwner(local, remote)
	if err != nil {
		return false, err
	}
	return int(owner) == uid, nil
}

// CanAccept returns true if a connection from remoteAddr to localAddr,
// accepted by a listener bound to listenAddr, should be served. Only
// connections to loopback listeners are checked.
func CanAccept(listenAddr, localAddr, remoteAddr net.Addr) bool {
	laddr, ok := listenAddr.(*net.TCPAddr)
	if !ok || !laddr.IP.IsLoopback() {
		return true
	}
	log := logflags.RunnerLogger()
	same, err := sameUser(localAddr.(*net.TCPAddr), remoteAddr.(*net.TCPAddr))
	if err != nil {
		log.Errorf("cannot check remote address: %v", err)
	}
	if !same {
		log.Errorf("closing connection from different user (%v): connections to localhost are only accepted from the same UNIX user", remoteAddr)
		return false
	}
	return true
}
