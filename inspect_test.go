// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/deltarpc/schema"
)

func newInspectServer(t *testing.T, proto *TransposedProtocol) *httptest.Server {
	t.Helper()
	handler, err := NewInspectHandler(proto)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestInspectDescribe(t *testing.T) {
	proto := newTestProtocol(t)
	srv := newInspectServer(t, proto)

	reply, err := Inspect(context.Background(), srv.URL, WithRequestLogger(zerolog.Nop()))
	require.NoError(t, err)

	fp := proto.Fingerprint()
	require.Equal(t, hex.EncodeToString(fp[:]), reply.Fingerprint)
	require.Equal(t, "Test", reply.Protocol.Name)
	require.Len(t, reply.Protocol.Client, 3)
	require.Equal(t, "add", reply.Protocol.Client[0].Name)
	require.Equal(t, schema.KindStruct, reply.Protocol.Client[0].Request.Type)
	require.Len(t, reply.Protocol.Server, 1)
}

func TestInspectSlots(t *testing.T) {
	srv := newInspectServer(t, newTestProtocol(t))
	ctx := context.Background()

	tests := []struct {
		phase     string
		direction string
		name      string
		want      []string
	}{
		{"request", "client", "TestRequest", []string{"add", "echo", "flip"}},
		{"request", "server", "TestRequest", []string{"ping"}},
		{"response", "client", "TestResponse", []string{"ping"}},
		{"response", "server", "TestResponse", []string{"add", "echo", "flip"}},
	}
	for _, tt := range tests {
		t.Run(tt.phase+"/"+tt.direction, func(t *testing.T) {
			reply, err := InspectSlots(ctx, srv.URL, tt.phase, tt.direction)
			require.NoError(t, err)
			require.Equal(t, tt.name, reply.Name)
			require.Equal(t, tt.want, reply.Procedures)
		})
	}

	_, err := InspectSlots(ctx, srv.URL, "sideways", "client")
	require.ErrorContains(t, err, "unknown phase")
	_, err = InspectSlots(ctx, srv.URL, "request", "nobody")
	require.ErrorContains(t, err, "unknown direction")
}

func TestInspectHeaders(t *testing.T) {
	handler, err := NewInspectHandler(newTestProtocol(t))
	require.NoError(t, err)

	var gotHeader, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Trace")
		gotQuery = r.URL.Query().Get("tenant")
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	_, err = Inspect(context.Background(), srv.URL,
		WithHeader("X-Trace", "abc"),
		WithQueryParam("tenant", "lux"),
	)
	require.NoError(t, err)
	require.Equal(t, "abc", gotHeader)
	require.Equal(t, "lux", gotQuery)
}

func TestInspectBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Inspect(context.Background(), srv.URL)
	require.ErrorContains(t, err, "status code: 404")
}

func TestWire(t *testing.T) {
	proto := newTestProtocol(t)
	table, err := proto.Wire("response", "client")
	require.NoError(t, err)
	require.Equal(t, []string{"ping"}, table.Names())

	_, err = proto.Wire("request", "")
	require.Error(t, err)
}

func TestServeInspectAddress(t *testing.T) {
	// reserve a free port for the inspect endpoint
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	proto := newTestProtocol(t)
	startServer(t, proto, WithInspectAddress(addr))

	var reply *DescribeReply
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		reply, err = Inspect(ctx, "http://"+addr)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "Test", reply.Protocol.Name)
}
