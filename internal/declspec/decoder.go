// Package declspec converts declaration payload maps into strongly typed
// structs so the declaration surface can accept configuration-shaped values
// ({"target": "math::double", "autoload": true}) next to inline callables.
package declspec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context carries the identifiers tied to one declaration payload.
type Context struct {
	Owner string
	Name  string
}

// PreHook lets callers mutate or normalise the payload before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook lets callers adjust or validate the decoded struct.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the default JSON decoding when provided.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts declaration payloads into strongly typed structs.
type Decoder[T any] struct {
	preHooks     []PreHook
	postHooks    []PostHook[T]
	configureDec []func(*json.Decoder)
	custom       CustomDecoder[T]
}

// WithPreHook applies hook prior to decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithDisallowUnknownFields rejects payload keys the target struct lacks.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, func(dec *json.Decoder) {
			dec.DisallowUnknownFields()
		})
	}
}

// WithCustomDecoder bypasses JSON decoding entirely.
func WithCustomDecoder[T any](custom CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = custom
	}
}

// New constructs a Decoder with the supplied options.
func New[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode runs the hook pipeline and produces the typed declaration.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		mutated, err := hook(ctx, payload)
		if err != nil {
			return zero, fmt.Errorf("declspec: pre hook for %q: %w", ctx.Name, err)
		}
		if mutated != nil {
			payload = mutated
		}
	}

	var value T
	if d.custom != nil {
		decoded, err := d.custom(ctx, payload)
		if err != nil {
			return zero, fmt.Errorf("declspec: custom decode for %q: %w", ctx.Name, err)
		}
		value = decoded
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			return zero, fmt.Errorf("declspec: marshal payload for %q: %w", ctx.Name, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		for _, configure := range d.configureDec {
			configure(dec)
		}
		if err := dec.Decode(&value); err != nil {
			return zero, fmt.Errorf("declspec: decode payload for %q: %w", ctx.Name, err)
		}
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &value); err != nil {
			return zero, fmt.Errorf("declspec: post hook for %q: %w", ctx.Name, err)
		}
	}
	return value, nil
}
