package transmit

// Capabilities describes what a strategy can do.
type Capabilities struct {
	// Name is the registry key of the strategy.
	Name string

	// CrossProcess indicates the payload survives a process boundary.
	CrossProcess bool

	// ZeroCopy indicates the payload reference is handed over untouched.
	ZeroCopy bool

	// PerLegCopy indicates every destination of a wire receives its own copy.
	PerLegCopy bool
}

// Predefined capability sets for the built-in strategies.
var (
	DirectCapabilities = Capabilities{
		Name:     "direct",
		ZeroCopy: true,
	}

	SharedSegmentCapabilities = Capabilities{
		Name:         "shared-segment",
		CrossProcess: true,
		PerLegCopy:   true,
	}
)

// GetCapabilities returns the capabilities of a strategy in the default
// registry. Unknown names yield a Capabilities carrying only the name.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
