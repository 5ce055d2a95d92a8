package plugin

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/event"
)

// Context is the shared execution context handed to every plugin's
// Initialize. One Context exists per active-device session; plugins may read
// it but never modify it.
type Context struct {
	deviceID  string
	sessionID string
	logger    *zap.Logger
	registry  *Registry
}

// DeviceID returns the device being debugged.
func (c *Context) DeviceID() string {
	return c.deviceID
}

// SessionID returns a unique ID for this session.
func (c *Context) SessionID() string {
	return c.sessionID
}

// Logger returns the session logger.
func (c *Context) Logger() *zap.Logger {
	return c.logger
}

// PluginLogger returns a logger named after the plugin.
func (c *Context) PluginLogger(pluginID string) *zap.Logger {
	return c.logger.Named(pluginID)
}

// SubscribeToEvents subscribes handler to the given event types on the
// registry's bus. The returned function unsubscribes.
func (c *Context) SubscribeToEvents(types []string, handler event.Handler) func() {
	if c.registry == nil {
		return func() {}
	}
	return c.registry.SubscribeToEvents(types, handler)
}

// Dispatch routes env through the registry as if it had been pushed by the
// device.
func (c *Context) Dispatch(env event.Envelope) {
	if c.registry != nil {
		c.registry.DispatchEvent(env)
	}
}

// NewContext creates a session context for deviceID bound to this registry.
func (r *Registry) NewContext(deviceID string) *Context {
	sessionID := uuid.NewString()
	return &Context{
		deviceID:  deviceID,
		sessionID: sessionID,
		logger: r.logger.Named("plugins").With(
			zap.String("device", deviceID),
			zap.String("session", sessionID),
		),
		registry: r,
	}
}
