package viewer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alexa-viewer/client"
	"alexa-viewer/server"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type shellCall struct {
	op    string
	appID string
}

type fakeShell struct {
	mu    sync.Mutex
	calls []shellCall
	seen  chan shellCall
}

func newFakeShell() *fakeShell {
	return &fakeShell{seen: make(chan shellCall, 16)}
}

func (s *fakeShell) ActivateApp(appID, appData string) {
	s.record(shellCall{"activate", appID})
}

func (s *fakeShell) DeactivateApp(appID string) {
	s.record(shellCall{"deactivate", appID})
}

func (s *fakeShell) record(c shellCall) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	s.seen <- c
}

func (s *fakeShell) recorded() []shellCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shellCall(nil), s.calls...)
}

func TestTemplateSupported(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{`{"type":"BodyTemplate1"}`, true},
		{`{"type":"BodyTemplate2","title":"x"}`, true},
		{`{"type":"WeatherTemplate"}`, true},
		{`{"type":"ListTemplate1"}`, false},
		{`{"type":1}`, false},
		{`{"title":"no type"}`, false},
		{`[1,2]`, false},
		{`not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			assert.Equal(t, tt.want, TemplateSupported(json.RawMessage(tt.data)))
		})
	}
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		want  []shellCall
	}{
		{"set destination raises navigation", EventSetDestination, `{"destination":{}}`, []shellCall{{"activate", "navigation"}}},
		{"supported template raises self", EventRenderTemplate, `{"type":"WeatherTemplate"}`, []shellCall{{"activate", "alexa-viewer"}}},
		{"unsupported template ignored", EventRenderTemplate, `{"type":"ListTemplate1"}`, nil},
		{"clear template hides self", EventClearTemplate, `{}`, []shellCall{{"deactivate", "alexa-viewer"}}},
		{"other events ignored", "vshl-capabilities/other", `{}`, nil},
		{"no data ignored", EventClearTemplate, ``, nil},
		{"null data ignored", EventClearTemplate, `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shell := newFakeShell()
			v := New("alexa-viewer", shell, quiet)
			v.HandleEvent(tt.event, json.RawMessage(tt.data), shell)
			assert.Equal(t, tt.want, shell.recorded())
		})
	}
}

func TestHandleEventWithoutShell(t *testing.T) {
	shell := newFakeShell()
	v := New("alexa-viewer", shell, quiet)
	v.HandleEvent(EventClearTemplate, json.RawMessage(`{}`), nil)
	v.HandleEvent(EventClearTemplate, json.RawMessage(`{}`), "not a shell")
	assert.Empty(t, shell.recorded())
}

type fakeBinder struct {
	subs []string
	fail error
}

func (b *fakeBinder) SetEventCallback(fn client.EventFunc, userCtx any) {}

func (b *fakeBinder) SubscribeWith(ctx context.Context, api, verb string, payload any) error {
	doc, _ := json.Marshal(payload)
	b.subs = append(b.subs, api+"/"+verb+" "+string(doc))
	return b.fail
}

func TestSubscribe(t *testing.T) {
	b := &fakeBinder{}
	v := New("alexa-viewer", newFakeShell(), quiet)
	require.NoError(t, v.Subscribe(context.Background(), b))
	assert.Equal(t, []string{
		`vshl-capabilities/navigation/subscribe {"actions":["setDestination"]}`,
		`vshl-capabilities/guimetadata/subscribe {"actions":["render_template"]}`,
	}, b.subs)
}

func TestSubscribeSkipsEmptyActions(t *testing.T) {
	saved := NavigationActions
	NavigationActions = nil
	t.Cleanup(func() { NavigationActions = saved })

	b := &fakeBinder{}
	v := New("alexa-viewer", newFakeShell(), quiet)
	require.NoError(t, v.Subscribe(context.Background(), b))
	assert.Equal(t, []string{`vshl-capabilities/guimetadata/subscribe {"actions":["render_template"]}`}, b.subs)
}

func TestSubscribeContinuesAfterFailure(t *testing.T) {
	b := &fakeBinder{fail: client.ErrInvalid}
	v := New("alexa-viewer", newFakeShell(), quiet)
	err := v.Subscribe(context.Background(), b)
	require.ErrorIs(t, err, client.ErrInvalid)
	assert.Len(t, b.subs, 2)
}

func TestViewerAgainstBinder(t *testing.T) {
	svr := server.NewServer("abc")
	svr.SetLogger(quiet)
	port, err := svr.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	subscribed := make(chan string, 2)
	for _, verb := range []string{"navigation/subscribe", "guimetadata/subscribe"} {
		svr.Handle(API, verb, func(ctx context.Context, req *server.Request) (any, error) {
			subscribed <- req.Verb
			return server.Success(nil), nil
		})
	}

	c, err := client.Connect(context.Background(), port, "abc", client.WithLogger(quiet), client.WithHost("127.0.0.1"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	shell := newFakeShell()
	v := New("alexa-viewer", shell, quiet)
	v.Register(c)
	require.NoError(t, v.Subscribe(context.Background(), c))
	require.Equal(t, "navigation/subscribe", <-subscribed)
	require.Equal(t, "guimetadata/subscribe", <-subscribed)

	require.NoError(t, svr.Push(EventRenderTemplate, map[string]string{"type": "BodyTemplate2"}))
	require.NoError(t, svr.Push(EventRenderTemplate, map[string]string{"type": "ListTemplate1"}))
	require.NoError(t, svr.Push(EventSetDestination, map[string]any{"destination": map[string]float64{"latitude": 45.5}}))
	require.NoError(t, svr.Push(EventClearTemplate, map[string]any{}))

	want := []shellCall{
		{"activate", "alexa-viewer"},
		{"activate", "navigation"},
		{"deactivate", "alexa-viewer"},
	}
	for _, w := range want {
		select {
		case got := <-shell.seen:
			require.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("shell never saw %v", w)
		}
	}
	require.Len(t, shell.recorded(), 3)
}

func TestLogShell(t *testing.T) {
	var s Shell = &LogShell{Logger: quiet}
	s.ActivateApp("navigation", "")
	s.DeactivateApp("alexa-viewer")

	var empty LogShell
	assert.NotNil(t, empty.logger())
}
