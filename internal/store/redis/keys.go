package redis

const (
	// KeyPrefixJournal is the prefix for registration journal keys
	KeyPrefixJournal = "lbreg:journal:"
)

// JournalKey returns the Redis key holding the registrations of one
// instance in one upstream group.
// Example: lbreg:journal:app:app-0
func JournalKey(upstream, instance string) string {
	return KeyPrefixJournal + upstream + ":" + instance
}
