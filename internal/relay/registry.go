package relay

// Registry maps live connection ids to the display name they announced on
// their most recent join. It is owned by the relay loop and is not safe for
// concurrent use.
type Registry struct {
	names map[string]string
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string)}
}

// Register records name for connID, replacing any earlier name.
func (r *Registry) Register(connID, name string) {
	r.names[connID] = name
}

func (r *Registry) Lookup(connID string) (string, bool) {
	name, ok := r.names[connID]
	return name, ok
}

// Remove forgets connID. Removing an unknown id is a no-op.
func (r *Registry) Remove(connID string) {
	delete(r.names, connID)
}

func (r *Registry) Len() int {
	return len(r.names)
}
