// Package viewer raises and hides the Alexa template viewer in response to
// vshl-capabilities events, while its own window is not visible.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"alexa-viewer/client"
	"alexa-viewer/message"
)

// API is the binding that emits the events the viewer reacts to.
const API = "vshl-capabilities"

// Events handled by HandleEvent.
const (
	EventSetDestination = API + "/setDestination"
	EventRenderTemplate = API + "/render_template"
	EventClearTemplate  = API + "/clear_template"
)

// NavigationApp is raised when a route is set.
const NavigationApp = "navigation"

// Actions subscribed to on start. clear_template is left out: the viewer's UI
// receives it directly.
var (
	NavigationActions  = []string{"setDestination"}
	GuiMetadataActions = []string{"render_template"}
)

var supportedTemplates = map[string]bool{
	"BodyTemplate1":   true,
	"BodyTemplate2":   true,
	"WeatherTemplate": true,
}

// Shell activates and deactivates applications on the display.
type Shell interface {
	ActivateApp(appID, appData string)
	DeactivateApp(appID string)
}

// LogShell is a Shell that only logs what it is asked to do.
type LogShell struct {
	Logger *slog.Logger
}

func (s *LogShell) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// ActivateApp implements Shell.
func (s *LogShell) ActivateApp(appID, appData string) {
	s.logger().Info("activate app", "app_id", appID, "app_data", appData)
}

// DeactivateApp implements Shell.
func (s *LogShell) DeactivateApp(appID string) {
	s.logger().Info("deactivate app", "app_id", appID)
}

// Binder is the part of the binder client the viewer needs.
type Binder interface {
	SetEventCallback(fn client.EventFunc, userCtx any)
	SubscribeWith(ctx context.Context, api, verb string, payload any) error
}

// Viewer routes events to a Shell.
type Viewer struct {
	appID  string
	shell  Shell
	logger *slog.Logger
}

// New returns a Viewer raising appID on shell. A nil logger means slog.Default().
func New(appID string, shell Shell, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{appID: appID, shell: shell, logger: logger}
}

// Register installs HandleEvent as the event handler of b, with the viewer's
// shell as its context.
func (v *Viewer) Register(b Binder) {
	b.SetEventCallback(v.HandleEvent, v.shell)
}

// HandleEvent implements client.EventFunc. userCtx must be the Shell to act on;
// events with empty or null data, or without a shell, are ignored.
func (v *Viewer) HandleEvent(event string, data json.RawMessage, userCtx any) {
	if len(data) == 0 || message.IsNull(data) {
		return
	}
	shell, ok := userCtx.(Shell)
	if !ok || shell == nil {
		return
	}

	v.logger.Debug("binder event", "event", event)
	switch event {
	case EventSetDestination:
		shell.ActivateApp(NavigationApp, "")
	case EventRenderTemplate:
		if !TemplateSupported(data) {
			v.logger.Debug("unsupported template type, ignoring", "event", event)
			return
		}
		shell.ActivateApp(v.appID, "")
	case EventClearTemplate:
		shell.DeactivateApp(v.appID)
	}
}

// TemplateSupported reports whether data is a template the viewer renders.
func TemplateSupported(data json.RawMessage) bool {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	typ, ok := doc["type"].(string)
	return ok && supportedTemplates[typ]
}

// Subscribe asks the binder for the navigation and gui metadata actions the
// viewer reacts to. Empty action lists are not sent. A failed subscription is
// logged and does not stop the other.
func (v *Viewer) Subscribe(ctx context.Context, b Binder) error {
	subs := []struct {
		verb    string
		actions []string
	}{
		{"navigation/subscribe", NavigationActions},
		{"guimetadata/subscribe", GuiMetadataActions},
	}

	var errs []error
	for _, sub := range subs {
		if len(sub.actions) == 0 {
			continue
		}
		err := b.SubscribeWith(ctx, API, sub.verb, map[string][]string{"actions": sub.actions})
		if err != nil {
			v.logger.Error("failed to subscribe", "api", API, "verb", sub.verb, "error", err)
			errs = append(errs, fmt.Errorf("viewer: %s/%s: %w", API, sub.verb, err))
		}
	}
	return errors.Join(errs...)
}
