package hub

import (
	"net"

	"github.com/google/uuid"
)

// SessionID derives a stable id from the peer endpoint.
//
// Distinct concurrent peers have distinct ip:port pairs, so the SHA-1 based
// UUIDv5 is collision-resistant for live connections. A reconnect from the
// same endpoint yields the same id and replaces the stale entry.
func SessionID(remote net.Addr) string {
	if remote == nil {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(remote.Network()+"://"+remote.String())).String()
}
