package client

import (
	"context"
	"encoding/json"
	"reflect"
)

const (
	// DefaultEventField is the argument key of the simple subscription form.
	DefaultEventField = "event"

	VerbSubscribe   = "subscribe"
	VerbUnsubscribe = "unsubscribe"
)

// Subscribe calls api/subscribe with {"event": event}.
func (c *Client) Subscribe(ctx context.Context, api, event string) error {
	return c.SubscribeField(ctx, api, DefaultEventField, event)
}

// SubscribeField calls api/subscribe with {field: event}, for bindings that
// name the key differently, e.g. {"signal": "foo"}.
func (c *Client) SubscribeField(ctx context.Context, api, field, event string) error {
	return c.simple(ctx, api, VerbSubscribe, field, event)
}

// SubscribeWith calls api/verb with a caller-built payload, for subscriptions
// that take more than one name, e.g. {"actions": ["a", "b"]} sent to
// "navigation/subscribe". An empty verb means "subscribe".
func (c *Client) SubscribeWith(ctx context.Context, api, verb string, payload any) error {
	if verb == "" {
		verb = VerbSubscribe
	}
	return c.custom(ctx, api, verb, payload)
}

// Unsubscribe calls api/unsubscribe with {"event": event}.
func (c *Client) Unsubscribe(ctx context.Context, api, event string) error {
	return c.UnsubscribeField(ctx, api, DefaultEventField, event)
}

// UnsubscribeField calls api/unsubscribe with {field: event}.
func (c *Client) UnsubscribeField(ctx context.Context, api, field, event string) error {
	return c.simple(ctx, api, VerbUnsubscribe, field, event)
}

// UnsubscribeWith mirrors SubscribeWith. An empty verb means "unsubscribe".
func (c *Client) UnsubscribeWith(ctx context.Context, api, verb string, payload any) error {
	if verb == "" {
		verb = VerbUnsubscribe
	}
	return c.custom(ctx, api, verb, payload)
}

func (c *Client) simple(ctx context.Context, api, verb, field, event string) error {
	if !c.IsValid() {
		return ErrInvalid
	}
	_, err := c.CallSync(ctx, api, verb, map[string]string{field: event})
	return err
}

func (c *Client) custom(ctx context.Context, api, verb string, payload any) error {
	if !c.IsValid() {
		return ErrInvalid
	}
	if isNil(payload) {
		return ErrNilPayload
	}
	_, err := c.CallSync(ctx, api, verb, payload)
	return err
}

func isNil(v any) bool {
	switch doc := v.(type) {
	case nil:
		return true
	case json.RawMessage:
		return len(doc) == 0
	case []byte:
		return len(doc) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
