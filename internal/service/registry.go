package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hearthhub/hearth-core/internal/core"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// EventBus is the interface the registry needs from the bus package.
type EventBus interface {
	Fire(event *core.Event)
}

// Handler executes a service call and optionally returns a JSON object
// response.
type Handler func(ctx context.Context, call core.ServiceCall) (map[string]any, error)

// Service describes a registered service.
type Service struct {
	Domain       string
	Name         string
	Description  string
	ResponseMode core.ResponseMode

	handler Handler
}

// Registry holds registered services and dispatches calls to them.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]*Service

	bus    EventBus
	logger Logger
}

// NewRegistry creates a service registry that fires lifecycle and
// call_service events on the given bus.
func NewRegistry(bus EventBus) *Registry {
	return &Registry{
		services: make(map[string]map[string]*Service),
		bus:      bus,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register installs a service handler. Registering an existing domain/name
// pair replaces the previous handler.
func (r *Registry) Register(domain, name string, handler Handler, mode core.ResponseMode, description string) {
	svc := &Service{
		Domain:       domain,
		Name:         name,
		Description:  description,
		ResponseMode: mode,
		handler:      handler,
	}

	r.mu.Lock()
	if r.services[domain] == nil {
		r.services[domain] = make(map[string]*Service)
	}
	r.services[domain][name] = svc
	r.mu.Unlock()

	r.logger.Debug("service registered", "domain", domain, "service", name)
	r.bus.Fire(core.NewEvent(core.EventServiceRegistered, map[string]any{
		"domain":  domain,
		"service": name,
	}, core.NewContext()))
}

// HasService reports whether the domain/name pair is registered.
func (r *Registry) HasService(domain, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[domain][name]
	return ok
}

// Get returns the descriptor for a registered service, or nil.
func (r *Registry) Get(domain, name string) *Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[domain][name]
}

// Unregister removes a service. Returns false if it was not registered.
func (r *Registry) Unregister(domain, name string) bool {
	r.mu.Lock()
	_, ok := r.services[domain][name]
	if ok {
		delete(r.services[domain], name)
		if len(r.services[domain]) == 0 {
			delete(r.services, domain)
		}
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("service removed", "domain", domain, "service", name)
		r.bus.Fire(core.NewEvent(core.EventServiceRemoved, map[string]any{
			"domain":  domain,
			"service": name,
		}, core.NewContext()))
	}
	return ok
}

// UnregisterDomain removes every service in a domain and returns how many
// were removed.
func (r *Registry) UnregisterDomain(domain string) int {
	r.mu.Lock()
	names := make([]string, 0, len(r.services[domain]))
	for name := range r.services[domain] {
		names = append(names, name)
	}
	delete(r.services, domain)
	r.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		r.logger.Debug("service removed", "domain", domain, "service", name)
		r.bus.Fire(core.NewEvent(core.EventServiceRemoved, map[string]any{
			"domain":  domain,
			"service": name,
		}, core.NewContext()))
	}
	return len(names)
}

// DomainServices returns the sorted service names registered in a domain.
func (r *Registry) DomainServices(domain string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services[domain]))
	for name := range r.services[domain] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Domains returns the sorted list of domains with registered services.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]string, 0, len(r.services))
	for domain := range r.services {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

// ServiceCount returns the total number of registered services.
func (r *Registry) ServiceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, svcs := range r.services {
		n += len(svcs)
	}
	return n
}

// Call dispatches a service call.
//
// With blocking true the handler runs to completion before Call returns;
// otherwise the handler runs on its own goroutine and Call returns after
// dispatch. returnResponse must be consistent with the service's response
// mode and requires blocking, otherwise ErrIllegalResponse.
//
// Every accepted call fires a call_service event with the caller's context.
// The handler itself receives a child context so downstream state writes
// and events chain back to the caller.
func (r *Registry) Call(ctx context.Context, call core.ServiceCall, blocking, returnResponse bool) (map[string]any, error) {
	svc := r.Get(call.Domain, call.Service)
	if svc == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrServiceNotFound, call.Domain, call.Service)
	}

	if returnResponse && svc.ResponseMode == core.ResponseNone {
		return nil, fmt.Errorf("%w: %s.%s does not return a response", ErrIllegalResponse, call.Domain, call.Service)
	}
	if !returnResponse && svc.ResponseMode == core.ResponseOnly {
		return nil, fmt.Errorf("%w: %s.%s requires the caller to accept a response", ErrIllegalResponse, call.Domain, call.Service)
	}
	if returnResponse && !blocking {
		return nil, fmt.Errorf("%w: a response requires a blocking call", ErrIllegalResponse)
	}

	r.bus.Fire(core.NewEvent(core.EventCallService, map[string]any{
		"domain":       call.Domain,
		"service":      call.Service,
		"service_data": call.Data,
	}, call.Context))

	// Downstream effects of the handler carry the call as their parent.
	child := call
	child.Context = call.Context.Child()

	if !blocking {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("service handler panicked",
						"domain", call.Domain,
						"service", call.Service,
						"panic", fmt.Sprint(rec),
					)
				}
			}()
			if _, err := svc.handler(ctx, child); err != nil {
				r.logger.Error("service call failed",
					"domain", call.Domain,
					"service", call.Service,
					"error", err,
				)
			}
		}()
		return nil, nil
	}

	response, err := svc.handler(ctx, child)
	if err != nil {
		return nil, fmt.Errorf("service call %s.%s: %w", call.Domain, call.Service, err)
	}
	if !returnResponse {
		return nil, nil
	}
	return response, nil
}
