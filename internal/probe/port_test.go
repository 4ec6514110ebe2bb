package probe

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/hitushen/netwatch/internal/models"
)

func listenLocal(t *testing.T) (*net.TCPListener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.(*net.TCPListener), ln.Addr().(*net.TCPAddr).Port
}

// closedPort 返回一个刚释放、当前无人监听的端口。
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestDialerOpenAndClosedPorts(t *testing.T) {
	_, open := listenLocal(t)
	closed := closedPort(t)

	res := NewDialer().Probe(context.Background(), "127.0.0.1", []int{closed, open}, time.Second)

	if res.Status != models.PortCheckOnline {
		t.Fatalf("status = %s, want online", res.Status)
	}
	if res.Attempted != 2 || res.OpenCount != 1 {
		t.Fatalf("attempted=%d open=%d", res.Attempted, res.OpenCount)
	}
	if !reflect.DeepEqual(res.Open, []int{open}) || !reflect.DeepEqual(res.Closed, []int{closed}) {
		t.Fatalf("open=%v closed=%v", res.Open, res.Closed)
	}
	if len(res.Failures) != 1 || res.Failures[0].Kind != FailureRefused {
		t.Fatalf("failures = %+v, want one refused", res.Failures)
	}
	if res.Error != "" {
		t.Fatalf("refusal should not set error, got %q", res.Error)
	}
}

func TestDialerAllClosedIsOffline(t *testing.T) {
	p1, p2 := closedPort(t), closedPort(t)
	res := NewDialer().Probe(context.Background(), "127.0.0.1", []int{p1, p2}, time.Second)
	if res.Status != models.PortCheckOffline {
		t.Fatalf("status = %s, want offline", res.Status)
	}
	if len(res.Closed) != 2 {
		t.Fatalf("closed = %v", res.Closed)
	}
}

func TestDialerEmptyPortsSkipped(t *testing.T) {
	res := NewDialer().Probe(context.Background(), "127.0.0.1", nil, time.Second)
	if res.Status != models.PortCheckSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
}

func TestDialerContinuesAfterFailures(t *testing.T) {
	var dialed []string
	d := &Dialer{DialContext: func(_ context.Context, _, address string, _ time.Duration) (net.Conn, error) {
		dialed = append(dialed, address)
		_, port, _ := net.SplitHostPort(address)
		switch port {
		case "80":
			return nil, &net.OpError{Op: "dial", Err: timeoutErr{}}
		case "443":
			return nil, errors.New("socket exploded")
		case "22":
			return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}}

	res := d.Probe(context.Background(), "10.0.0.5", []int{80, 443, 22, 8080, 70000}, time.Second)

	if len(dialed) != 4 {
		t.Fatalf("dialed %d ports, want 4 (invalid port never dialled): %v", len(dialed), dialed)
	}
	if !reflect.DeepEqual(res.Open, []int{8080}) {
		t.Fatalf("open = %v", res.Open)
	}
	if !reflect.DeepEqual(res.Closed, []int{80, 443, 22, 70000}) {
		t.Fatalf("closed = %v", res.Closed)
	}
	kinds := make([]string, len(res.Failures))
	for i, f := range res.Failures {
		kinds[i] = f.Kind
	}
	want := []string{FailureTimeout, FailureError, FailureRefused, FailureError}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("failure kinds = %v, want %v", kinds, want)
	}
	if res.Error != "invalid port 70000" {
		t.Fatalf("error = %q", res.Error)
	}
	if res.Services[8080] != "http-proxy" {
		t.Fatalf("services = %v", res.Services)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestNaabuProbeMapsOpenPorts(t *testing.T) {
	n := NewNaabu(0)
	n.enumerate = func(_ context.Context, address string, ports []int, _ time.Duration) (map[int]struct{}, error) {
		if address != "10.0.0.9" {
			t.Errorf("address = %s", address)
		}
		if !reflect.DeepEqual(ports, []int{22, 443}) {
			t.Errorf("ports = %v", ports)
		}
		return map[int]struct{}{443: {}}, nil
	}

	res := n.Probe(context.Background(), "10.0.0.9", []int{22, 443, 0}, time.Second)
	if res.Status != models.PortCheckOnline {
		t.Fatalf("status = %s", res.Status)
	}
	if !reflect.DeepEqual(res.Open, []int{443}) || !reflect.DeepEqual(res.Closed, []int{22, 0}) {
		t.Fatalf("open=%v closed=%v", res.Open, res.Closed)
	}
}

func TestNaabuProbeRunnerError(t *testing.T) {
	n := NewNaabu(0)
	n.enumerate = func(context.Context, string, []int, time.Duration) (map[int]struct{}, error) {
		return nil, errors.New("naabu enumeration: boom")
	}
	res := n.Probe(context.Background(), "10.0.0.9", []int{80}, time.Second)
	if res.Status != models.PortCheckError || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDialerRealListenerPortOrder(t *testing.T) {
	_, a := listenLocal(t)
	_, b := listenLocal(t)
	res := NewDialer().Probe(context.Background(), "127.0.0.1", []int{b, a}, time.Second)
	if !reflect.DeepEqual(res.Open, []int{b, a}) {
		t.Fatalf("open = %v, want input order %s,%s", res.Open, strconv.Itoa(b), strconv.Itoa(a))
	}
}
