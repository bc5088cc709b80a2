// Package accesscontrol implements the IP and user block lists consulted by
// the ingress handler before a request is admitted (spec.md section 4.4).
// The default backend is a JSON file on disk, grounded in the reference
// dispatcher's AppState::load_blocked_items/save_blocked_items. An optional
// Redis-backed store is available for operators running multiple proxy
// instances against a shared block list, grounded in the teacher's plain
// go-redis client usage (store/redis.go), deliberately without the
// teacher's Lua-script distributed-lock machinery, which has no equivalent
// need here.
package accesscontrol

// Store is the access-control backend interface. Both FileStore and
// RedisStore implement it; dispatch.Handler only needs the read side,
// exposed separately as dispatch.Blocklist.
type Store interface {
	IsIPBlocked(ip string) bool
	IsUserBlocked(user string) bool

	BlockIP(ip string) error
	UnblockIP(ip string) error
	BlockUser(user string) error
	UnblockUser(user string) error

	BlockedIPs() []string
	BlockedUsers() []string
}
