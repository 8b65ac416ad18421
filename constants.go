package amp

import "github.com/chiragatal/esp-amp/internal/constants"

// Re-exported defaults for applications that construct components
// directly instead of going through Pair/MainInit/SubInit.
const (
	DefaultQueueSize      = constants.DefaultQueueSize
	DefaultMaxItemSize    = constants.DefaultMaxItemSize
	DefaultRPCMaxPending  = constants.DefaultRPCMaxPending
	DefaultRPCTimeout     = constants.DefaultRPCTimeout
	DefaultRPCMaxServices = constants.DefaultRPCMaxServices
)
