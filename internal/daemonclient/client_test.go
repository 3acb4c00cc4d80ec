package daemonclient

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperfan-project/hyperfand/internal/protocol"
)

// fakeServer accepts connections and replies to every request with a canned
// Response, echoing the request ID. The returned stop func closes the
// listener and every connection it has accepted so far, simulating a
// daemon restart.
func fakeServer(t *testing.T, sockPath string, reply func(protocol.Request) protocol.Response) func() {
	t.Helper()
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			go func(c net.Conn) {
				defer c.Close()
				fr := protocol.NewFrameReader(c)
				for {
					frame, err := fr.ReadFrame()
					if err != nil {
						return
					}
					env, err := protocol.DecodeRequestEnvelope(frame)
					if err != nil {
						return
					}
					resp := reply(env.Request)
					out, _ := protocol.EncodeFrame(protocol.ResponseEnvelope{ID: env.ID, Response: resp})
					c.Write(out)
				}
			}(conn)
		}
	}()
	return func() {
		ln.Close()
		<-done
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
		os.Remove(sockPath)
	}
}

func TestRequestRoundTripsPing(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "hyperfand.sock")
	stop := fakeServer(t, sockPath, func(req protocol.Request) protocol.Response {
		v := "pong"
		return protocol.OkResponse(&protocol.ResponseData{Value: &v})
	})
	defer stop()

	c := New(sockPath)
	defer c.Close()

	resp, err := c.Request(protocol.Request{Kind: protocol.KindPing})
	require.NoError(t, err)
	require.True(t, resp.Ok)
	assert.Equal(t, "pong", *resp.Data.Value)
}

func TestRequestRejectsMissingRequiredField(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "hyperfand.sock")
	stop := fakeServer(t, sockPath, func(req protocol.Request) protocol.Response {
		return protocol.OkResponse(&protocol.ResponseData{}) // missing "value"
	})
	defer stop()

	c := New(sockPath)
	defer c.Close()

	_, err := c.Request(protocol.Request{Kind: protocol.KindPing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IpcProtocol")
}

func TestRequestReconnectsAfterServerCloses(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "hyperfand.sock")
	stop := fakeServer(t, sockPath, func(req protocol.Request) protocol.Response {
		v := "pong"
		return protocol.OkResponse(&protocol.ResponseData{Value: &v})
	})

	c := New(sockPath)
	defer c.Close()

	_, err := c.Request(protocol.Request{Kind: protocol.KindPing})
	require.NoError(t, err)

	stop() // kill the server out from under the pooled connection

	_, err = c.Request(protocol.Request{Kind: protocol.KindPing})
	require.Error(t, err) // both the original attempt and the reconnect fail

	// Restart a server at the same path and confirm the client recovers.
	stop2 := fakeServer(t, sockPath, func(req protocol.Request) protocol.Response {
		v := "pong"
		return protocol.OkResponse(&protocol.ResponseData{Value: &v})
	})
	defer stop2()

	resp, err := c.Request(protocol.Request{Kind: protocol.KindPing})
	require.NoError(t, err)
	assert.True(t, resp.Ok)
}

func TestValidateRejectsOnClientBeforeSend(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "hyperfand.sock")
	stop := fakeServer(t, sockPath, func(req protocol.Request) protocol.Response {
		t.Fatal("server should never be contacted for an invalid request")
		return protocol.Response{}
	})
	defer stop()

	c := New(sockPath)
	defer c.Close()

	_, err := c.Request(protocol.Request{Kind: protocol.KindReadTemperature}) // missing path
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Validation")
}

func TestClientSideRateLimitRejectsAfterQuota(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "hyperfand.sock")
	stop := fakeServer(t, sockPath, func(req protocol.Request) protocol.Response {
		v := "pong"
		return protocol.OkResponse(&protocol.ResponseData{Value: &v})
	})
	defer stop()

	c := New(sockPath)
	defer c.Close()
	c.SetRateLimit(1)

	_, err := c.Request(protocol.Request{Kind: protocol.KindPing})
	require.NoError(t, err)
	_, err = c.Request(protocol.Request{Kind: protocol.KindPing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limit")
}
