package tcp

const (
	// DefaultCapacity is the default byte stream capacity of each direction.
	DefaultCapacity = 64000
	// MaxPayloadSize is the largest payload carried by one segment.
	MaxPayloadSize = 1000
	// DefaultRTO is the default initial retransmission timeout in ms.
	DefaultRTO = 1000
	// MaxRetxAttempts is how many consecutive retransmissions a connection
	// tolerates before giving up.
	MaxRetxAttempts = 8
)

// Config holds the tunables of one TCP endpoint.
type Config struct {
	InitialRTO      uint64 // ms
	MaxPayloadSize  uint64
	Capacity        uint64
	MaxRetxAttempts uint64
}

// DefaultConfig returns the default TCP parameters.
func DefaultConfig() Config {
	return Config{
		InitialRTO:      DefaultRTO,
		MaxPayloadSize:  MaxPayloadSize,
		Capacity:        DefaultCapacity,
		MaxRetxAttempts: MaxRetxAttempts,
	}
}
