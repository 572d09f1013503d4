package registry

// Service is a component whose lifecycle is driven by the service registry.
// Start must return once the component is running; Stop releases what Start acquired.
type Service interface {
	Start() error
	Stop() error
}
