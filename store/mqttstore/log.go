// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqttstore

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/aquamon/aquamon/internal/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/iancoleman/strcase"
)

type logger struct{ log.Logger }

func (l logger) connected(ctx context.Context, clientID string) {
	l.Log(ctx, slog.LevelInfo, "relay connected",
		slog.String("client_id", clientID))
}

func (l logger) lost(ctx context.Context, cause error) {
	l.Err(ctx, "relay connection lost", cause)
}

func (l logger) subscribed(ctx context.Context, filter string) {
	l.Log(ctx, slog.LevelDebug, "subscribed", slog.String("filter", filter))
}

// Log an outbound or inbound packet field by field. Only worth the reflection
// at debug level.
func (l logger) packet(ctx context.Context, name string, packet any) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}
	l.Log(ctx, slog.LevelDebug, name, packetAttrs(deref(reflect.ValueOf(packet)))...)
}

func packetAttrs(val reflect.Value) []slog.Attr {
	if val.Kind() != reflect.Struct {
		return nil
	}

	typ := val.Type()
	var attrs []slog.Attr
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		attrs = append(attrs,
			packetAttr(strcase.ToSnake(f.Name), deref(val.Field(i)))...)
	}
	return attrs
}

func packetAttr(name string, val reflect.Value) []slog.Attr {
	if val.Kind() == reflect.Invalid || val.IsZero() {
		return nil
	}

	switch v := val.Interface().(type) {
	case []byte:
		// Payloads can be large; their size is enough.
		return []slog.Attr{slog.Int(name+"_len", len(v))}
	case paho.UserProperties:
		return nil
	case []paho.SubscribeOptions:
		topics := make([]string, len(v))
		for i, s := range v {
			topics[i] = s.Topic
		}
		return []slog.Attr{slog.Any("topics", topics)}
	}

	switch name {
	case "properties":
		return packetAttrs(val)
	case "qo_s":
		return []slog.Attr{slog.Any("qos", val.Interface())}
	}

	if val.Kind() == reflect.Struct {
		nested := packetAttrs(val)
		if len(nested) == 0 {
			return nil
		}
		group := make([]any, len(nested))
		for i, a := range nested {
			group[i] = a
		}
		return []slog.Attr{slog.Group(name, group...)}
	}
	return []slog.Attr{slog.Any(name, val.Interface())}
}

func deref(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	return val
}
