package controller

// linkState tracks how far along the connection lifecycle a device is.
type linkState int

const (
	stateDiscovered linkState = iota
	stateConnecting
	stateServicesDiscovered
	stateCharacteristicsReady
	stateInitializing
	stateReady
	stateDisconnected
)

// String returns a human-readable name for the state.
func (s linkState) String() string {
	switch s {
	case stateDiscovered:
		return "discovered"
	case stateConnecting:
		return "connecting"
	case stateServicesDiscovered:
		return "services_discovered"
	case stateCharacteristicsReady:
		return "characteristics_ready"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// link is the per-device lifecycle record kept from first connect attempt
// until disconnect.
type link struct {
	state     linkState
	modelCode string
	modelName string
}
