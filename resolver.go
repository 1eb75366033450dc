package cloudaws

// ResourceIDResolver maps a logical resource name (queue name, bucket name)
// to its physical identifier.
type ResourceIDResolver interface {
	ResolveToPhysicalResourceID(logicalID string) string
}

// ResourceIDResolverFunc adapts an ordinary function to ResourceIDResolver
type ResourceIDResolverFunc func(logicalID string) string

func (f ResourceIDResolverFunc) ResolveToPhysicalResourceID(logicalID string) string {
	return f(logicalID)
}

// StaticResourceIDResolver resolves names through a fixed map.
// Names not in the map are returned unchanged.
type StaticResourceIDResolver map[string]string

func (r StaticResourceIDResolver) ResolveToPhysicalResourceID(logicalID string) string {
	if physical, ok := r[logicalID]; ok && physical != "" {
		return physical
	}
	return logicalID
}

// PassthroughResolver returns every name unchanged
var PassthroughResolver ResourceIDResolver = ResourceIDResolverFunc(func(logicalID string) string {
	return logicalID
})

// Resolve applies r to id, treating a nil resolver as passthrough
func Resolve(r ResourceIDResolver, id string) string {
	if r == nil {
		return id
	}
	return r.ResolveToPhysicalResourceID(id)
}
