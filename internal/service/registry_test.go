package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhub/hearth-core/internal/core"
)

type recordingBus struct {
	mu     sync.Mutex
	events []*core.Event
}

func (b *recordingBus) Fire(event *core.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBus) byType(eventType string) []*core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*core.Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func nopHandler(context.Context, core.ServiceCall) (map[string]any, error) {
	return nil, nil
}

func newTestRegistry() (*Registry, *recordingBus) {
	bus := &recordingBus{}
	return NewRegistry(bus), bus
}

func TestRegisterAndLookup(t *testing.T) {
	reg, bus := newTestRegistry()

	reg.Register("light", "turn_on", nopHandler, core.ResponseNone, "Turn a light on")

	assert.True(t, reg.HasService("light", "turn_on"))
	assert.False(t, reg.HasService("light", "turn_off"))

	svc := reg.Get("light", "turn_on")
	require.NotNil(t, svc)
	assert.Equal(t, "Turn a light on", svc.Description)

	events := bus.byType(core.EventServiceRegistered)
	require.Len(t, events, 1)
	assert.Equal(t, "light", events[0].Data["domain"])
	assert.Equal(t, "turn_on", events[0].Data["service"])
}

func TestReregisterReplacesHandler(t *testing.T) {
	reg, _ := newTestRegistry()

	var called string
	reg.Register("light", "turn_on", func(context.Context, core.ServiceCall) (map[string]any, error) {
		called = "first"
		return nil, nil
	}, core.ResponseNone, "")
	reg.Register("light", "turn_on", func(context.Context, core.ServiceCall) (map[string]any, error) {
		called = "second"
		return nil, nil
	}, core.ResponseNone, "")

	_, err := reg.Call(context.Background(), core.NewServiceCall("light", "turn_on", nil, core.NewContext()), true, false)
	require.NoError(t, err)
	assert.Equal(t, "second", called)
	assert.Equal(t, 1, reg.ServiceCount())
}

func TestUnregister(t *testing.T) {
	reg, bus := newTestRegistry()

	reg.Register("light", "turn_on", nopHandler, core.ResponseNone, "")

	assert.True(t, reg.Unregister("light", "turn_on"))
	assert.False(t, reg.Unregister("light", "turn_on"))
	assert.False(t, reg.HasService("light", "turn_on"))
	assert.Len(t, bus.byType(core.EventServiceRemoved), 1)
}

func TestUnregisterDomain(t *testing.T) {
	reg, bus := newTestRegistry()

	reg.Register("light", "turn_on", nopHandler, core.ResponseNone, "")
	reg.Register("light", "turn_off", nopHandler, core.ResponseNone, "")
	reg.Register("switch", "toggle", nopHandler, core.ResponseNone, "")

	assert.Equal(t, 2, reg.UnregisterDomain("light"))
	assert.Equal(t, 0, reg.UnregisterDomain("light"))
	assert.Equal(t, []string{"switch"}, reg.Domains())
	assert.Len(t, bus.byType(core.EventServiceRemoved), 2)
}

func TestDomainServices(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.Register("light", "turn_on", nopHandler, core.ResponseNone, "")
	reg.Register("light", "turn_off", nopHandler, core.ResponseNone, "")

	assert.Equal(t, []string{"turn_off", "turn_on"}, reg.DomainServices("light"))
	assert.Empty(t, reg.DomainServices("switch"))
}

func TestCallUnknownService(t *testing.T) {
	reg, _ := newTestRegistry()

	_, err := reg.Call(context.Background(), core.NewServiceCall("light", "turn_on", nil, core.NewContext()), true, false)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestCallFiresEventWithCallerContext(t *testing.T) {
	reg, bus := newTestRegistry()

	reg.Register("light", "turn_on", nopHandler, core.ResponseNone, "")

	ctx := core.NewContextWithUser("user-1")
	call := core.NewServiceCall("light", "turn_on", map[string]any{"brightness": 255}, ctx)
	_, err := reg.Call(context.Background(), call, true, false)
	require.NoError(t, err)

	events := bus.byType(core.EventCallService)
	require.Len(t, events, 1)
	assert.Equal(t, ctx.ID, events[0].Context.ID)
	assert.Equal(t, "light", events[0].Data["domain"])
	data, ok := events[0].Data["service_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 255, data["brightness"])
}

func TestHandlerReceivesChildContext(t *testing.T) {
	reg, _ := newTestRegistry()

	var handlerCtx core.Context
	reg.Register("light", "turn_on", func(_ context.Context, call core.ServiceCall) (map[string]any, error) {
		handlerCtx = call.Context
		return nil, nil
	}, core.ResponseNone, "")

	caller := core.NewContext()
	_, err := reg.Call(context.Background(), core.NewServiceCall("light", "turn_on", nil, caller), true, false)
	require.NoError(t, err)

	assert.Equal(t, caller.ID, handlerCtx.ParentID)
	assert.NotEqual(t, caller.ID, handlerCtx.ID)
}

func TestCallResponse(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.Register("weather", "get_forecast", func(context.Context, core.ServiceCall) (map[string]any, error) {
		return map[string]any{"temperature": 21.5}, nil
	}, core.ResponseOnly, "")

	response, err := reg.Call(context.Background(), core.NewServiceCall("weather", "get_forecast", nil, core.NewContext()), true, true)
	require.NoError(t, err)
	assert.Equal(t, 21.5, response["temperature"])
}

func TestCallIllegalResponse(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.Register("light", "turn_on", nopHandler, core.ResponseNone, "")
	reg.Register("weather", "get_forecast", nopHandler, core.ResponseOnly, "")
	reg.Register("camera", "snapshot", nopHandler, core.ResponseOptional, "")

	bg := context.Background()

	// response requested from a service that never returns one
	_, err := reg.Call(bg, core.NewServiceCall("light", "turn_on", nil, core.NewContext()), true, true)
	assert.ErrorIs(t, err, ErrIllegalResponse)

	// response discarded from a service that only returns one
	_, err = reg.Call(bg, core.NewServiceCall("weather", "get_forecast", nil, core.NewContext()), true, false)
	assert.ErrorIs(t, err, ErrIllegalResponse)

	// response requested without blocking
	_, err = reg.Call(bg, core.NewServiceCall("camera", "snapshot", nil, core.NewContext()), false, true)
	assert.ErrorIs(t, err, ErrIllegalResponse)

	// optional response may be discarded
	_, err = reg.Call(bg, core.NewServiceCall("camera", "snapshot", nil, core.NewContext()), true, false)
	assert.NoError(t, err)
}

func TestCallHandlerError(t *testing.T) {
	reg, _ := newTestRegistry()

	wantErr := errors.New("bulb unreachable")
	reg.Register("light", "turn_on", func(context.Context, core.ServiceCall) (map[string]any, error) {
		return nil, wantErr
	}, core.ResponseNone, "")

	_, err := reg.Call(context.Background(), core.NewServiceCall("light", "turn_on", nil, core.NewContext()), true, false)
	assert.ErrorIs(t, err, wantErr)
}

func TestCallNonBlocking(t *testing.T) {
	reg, _ := newTestRegistry()

	done := make(chan struct{})
	reg.Register("light", "turn_on", func(context.Context, core.ServiceCall) (map[string]any, error) {
		close(done)
		return nil, nil
	}, core.ResponseNone, "")

	_, err := reg.Call(context.Background(), core.NewServiceCall("light", "turn_on", nil, core.NewContext()), false, false)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}
