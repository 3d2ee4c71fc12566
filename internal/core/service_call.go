package core

// ResponseMode declares whether a service produces a response.
type ResponseMode string

const (
	// ResponseNone - the service never returns a response; requesting one
	// is an error.
	ResponseNone ResponseMode = "none"

	// ResponseOptional - the service may return a response when asked.
	ResponseOptional ResponseMode = "optional"

	// ResponseOnly - the service exists solely to return a response;
	// calling it without requesting one is an error.
	ResponseOnly ResponseMode = "only"
)

// ServiceCall describes one invocation of a registered service.
type ServiceCall struct {
	// Domain is the service's domain (e.g. "light").
	Domain string `json:"domain"`

	// Service is the service name within the domain (e.g. "turn_on").
	Service string `json:"service"`

	// Data is the caller-supplied payload.
	Data map[string]any `json:"service_data"`

	// Context is the caller's causality record. Handlers receive a child
	// of this context so downstream mutations chain back to the call.
	Context Context `json:"context"`
}

// NewServiceCall creates a service call descriptor.
func NewServiceCall(domain, service string, data map[string]any, ctx Context) ServiceCall {
	if data == nil {
		data = map[string]any{}
	}
	return ServiceCall{Domain: domain, Service: service, Data: data, Context: ctx}
}
