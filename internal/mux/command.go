// Package mux routes command datagrams between the transport and either the
// pairing/admin handler or the sync engine, keyed by sub-application id.
package mux

import (
	"fmt"

	"github.com/and161185/paircloud/internal/errs"
)

// Command is the closed set of pairing/admin commands. Values are wire codes.
type Command uint16

const (
	SaveData Command = iota
	LoadData
	LoadAllData
	DeleteData
	PushNotification
	GetEncryptedQR
	GetSSHAccess
	GetSupportedApps
)

var commandNames = [...]string{
	SaveData:         "SaveData",
	LoadData:         "LoadData",
	LoadAllData:      "LoadAllData",
	DeleteData:       "DeleteData",
	PushNotification: "PushNotification",
	GetEncryptedQR:   "GetEncryptedQR",
	GetSSHAccess:     "GetSSHAccess",
	GetSupportedApps: "GetSupportedApps",
}

// ParseCommand converts a wire code, failing with ErrUnknownCommand when out of range.
func ParseCommand(code uint16) (Command, error) {
	if int(code) >= len(commandNames) {
		return 0, fmt.Errorf("code %d: %w", code, errs.ErrUnknownCommand)
	}
	return Command(code), nil
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", uint16(c))
}

// AppID derives a 16-bit sub-application id from a short ASCII tag: bytes are
// folded pairwise into a little-endian word.
func AppID(tag string) uint16 {
	var id uint16
	for i := 0; i < len(tag); i++ {
		id ^= uint16(tag[i]) << (8 * (i % 2))
	}
	return id
}

// Sub-application ids multiplexed over the transport.
var (
	AdminApp = AppID("pc")
	SyncApp  = AppID("sy")
)
