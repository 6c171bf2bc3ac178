package logging

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// ShortAddress renders an account as 0x1234...abcd for logs and notices.
// The zero address renders as an empty string.
func ShortAddress(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// Account returns a slog attribute carrying the shortened account.
func Account(addr common.Address) slog.Attr {
	return slog.String("account", ShortAddress(addr))
}
