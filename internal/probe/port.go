package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/services/fingerprint"
)

// 端口探测失败类型。
const (
	FailureTimeout = "timeout"
	FailureRefused = "refused"
	FailureError   = "error"
	FailureClosed  = "closed"
)

// DefaultPorts 为设备未配置端口时使用的探测列表。
var DefaultPorts = []int{80, 443, 22, 8080}

// PortProber 探测一组 TCP 端口。
type PortProber interface {
	Probe(ctx context.Context, address string, ports []int, timeout time.Duration) models.PortCheck
}

// Dialer 通过逐个建立 TCP 连接判断端口是否开放。
type Dialer struct {
	// DialContext 为空时使用 net.Dialer。
	DialContext func(ctx context.Context, network, address string, timeout time.Duration) (net.Conn, error)
}

// NewDialer 创建基于 TCP connect 的端口探测器。
func NewDialer() *Dialer {
	return &Dialer{}
}

// Probe 按输入顺序探测端口，单个端口失败不会中断整批探测。
func (d *Dialer) Probe(ctx context.Context, address string, ports []int, timeout time.Duration) models.PortCheck {
	if len(ports) == 0 {
		return models.PortCheck{Status: models.PortCheckSkipped}
	}
	res := newPortBatch(len(ports))

	for _, port := range ports {
		if port < 1 || port > 65535 {
			msg := fmt.Sprintf("invalid port %d", port)
			res.markClosed(port, FailureError, msg)
			res.Error = msg
			continue
		}
		conn, err := d.dial(ctx, net.JoinHostPort(address, strconv.Itoa(port)), timeout)
		if err != nil {
			kind := classify(err)
			res.markClosed(port, kind, err.Error())
			if kind == FailureError {
				res.Error = fmt.Sprintf("error checking port %d: %v", port, err)
			}
			continue
		}
		_ = conn.Close()
		res.markOpen(port)
	}

	return res.result()
}

func (d *Dialer) dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	if d.DialContext != nil {
		return d.DialContext(ctx, "tcp", address, timeout)
	}
	dialer := net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

func classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return FailureRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return FailureClosed
	default:
		return FailureError
	}
}

// portBatch 累积一次批量探测的结果。
type portBatch struct {
	models.PortCheck
}

func newPortBatch(n int) *portBatch {
	return &portBatch{models.PortCheck{
		Attempted: n,
		Open:      make([]int, 0, n),
		Closed:    make([]int, 0, n),
		Status:    models.PortCheckOffline,
	}}
}

func (b *portBatch) markOpen(port int) {
	b.Open = append(b.Open, port)
	b.OpenCount++
	if name := fingerprint.NameForPort(port); name != "" {
		if b.Services == nil {
			b.Services = make(map[int]string)
		}
		b.Services[port] = name
	}
}

func (b *portBatch) markClosed(port int, kind, message string) {
	b.Closed = append(b.Closed, port)
	b.Failures = append(b.Failures, models.PortFailure{Port: port, Kind: kind, Message: message})
}

func (b *portBatch) result() models.PortCheck {
	if b.OpenCount > 0 {
		b.Status = models.PortCheckOnline
	}
	return b.PortCheck
}
