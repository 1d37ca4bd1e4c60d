//go:build windows

package socket

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/coachpo/pgreactor/reactor"
)

// WindowsDuplicator implements Duplicator with WSADuplicateSocket, the
// Windows counterpart to dup(2)+getsockname(2) (spec §4.D: "on systems
// that require protocol-metadata duplication, by the native duplication
// routine").
type WindowsDuplicator struct {
	// TargetProcessID is the process the duplicated socket is handed to;
	// for an in-process reactor this is the current process.
	TargetProcessID uint32
}

func (d WindowsDuplicator) Duplicate(driverFD int) (int, reactor.Family, int64, error) {
	s := windows.Handle(driverFD)

	var protoInfo windows.WSAProtocolInfo
	if err := windows.WSADuplicateSocket(s, d.TargetProcessID, &protoInfo); err != nil {
		return -1, 0, 0, fmt.Errorf("socket: WSADuplicateSocket: %w", err)
	}

	dup, err := windows.WSASocket(
		int32(protoInfo.AddressFamily),
		int32(protoInfo.SocketType),
		int32(protoInfo.Protocol),
		&protoInfo,
		0,
		windows.WSA_FLAG_OVERLAPPED,
	)
	if err != nil {
		return -1, 0, 0, fmt.Errorf("socket: WSASocket from protocol info: %w", err)
	}

	family := reactor.IPv4
	if protoInfo.AddressFamily == windows.AF_INET6 {
		family = reactor.IPv6
	}
	token := protoInfoToken(&protoInfo)
	return int(dup), family, token, nil
}

func (d WindowsDuplicator) Identify(driverFD int) (int64, error) {
	var protoInfo windows.WSAProtocolInfo
	if err := windows.WSADuplicateSocket(windows.Handle(driverFD), d.TargetProcessID, &protoInfo); err != nil {
		return 0, fmt.Errorf("socket: WSADuplicateSocket (identify): %w", err)
	}
	return protoInfoToken(&protoInfo), nil
}

// protoInfoToken derives a stable identity token from the catalog entry
// id WSADuplicateSocket reports, matching spec §4.D's "protocol-info
// catalog entry id" example of richer duplication metadata.
func protoInfoToken(info *windows.WSAProtocolInfo) int64 {
	return int64(info.CatalogEntryId)
}
