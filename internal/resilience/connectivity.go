package resilience

// Connectivity is the runtime's reachability signal.
type Connectivity interface {
	IsOffline() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) IsOffline() bool {
	return f()
}

// AnyOffline reports offline when any of the signals does.
type AnyOffline []Connectivity

func (a AnyOffline) IsOffline() bool {
	for _, c := range a {
		if c != nil && c.IsOffline() {
			return true
		}
	}
	return false
}
