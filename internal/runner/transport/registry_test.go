package transport_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/lcsm/internal/runner/transport"
)

func TestRegistryDial(t *testing.T) {
	reg := transport.NewRegistry()
	sentinel := errors.New("dialed")
	var gotURI string
	reg.Register(transport.SocketTCP, func(_ context.Context, uri string) (transport.Conn, error) {
		gotURI = uri
		return nil, sentinel
	})

	_, err := reg.Dial(context.Background(), transport.SocketTCP, "127.0.0.1:8008")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected dialer error, got %v", err)
	}
	if gotURI != "127.0.0.1:8008" {
		t.Errorf("got uri %q", gotURI)
	}
}

func TestRegistryUnknownSocketType(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register(transport.SocketTCP, func(context.Context, string) (transport.Conn, error) { return nil, nil })
	reg.Register(transport.SocketBuiltin, func(context.Context, string) (transport.Conn, error) { return nil, nil })

	_, err := reg.Dial(context.Background(), "udp", "x")
	if !errors.Is(err, transport.ErrUnknownSocketType) {
		t.Fatalf("expected ErrUnknownSocketType, got %v", err)
	}
	if !strings.Contains(err.Error(), "[builtin tcp]") {
		t.Errorf("error should list registered types: %v", err)
	}
}
