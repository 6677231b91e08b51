package cachegraph

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "codec_mismatch"}
	SelfHeal(key, reason string)

	// A value could not be encoded and was not stored.
	EncodeFailed(key string, err error)

	// A key addressing the lock keyspace was passed to Get or Set.
	ReservedKey(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) EncodeFailed(string, error) {}
func (NopHooks) ReservedKey(string)         {}

// Self-heal reasons passed to Hooks.SelfHeal.
const (
	HealCorrupt       = "corrupt"
	HealCodecMismatch = "codec_mismatch"
)
