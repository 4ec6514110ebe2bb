package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/naabu/v2/pkg/result"
	"github.com/projectdiscovery/naabu/v2/pkg/runner"

	"github.com/hitushen/netwatch/internal/models"
)

// Naabu 使用 naabu 的 connect 扫描实现端口探测。
type Naabu struct {
	// Rate 为每秒发包上限。
	Rate int
	// enumerate 为空时调用 naabu runner，测试中可替换。
	enumerate func(ctx context.Context, address string, ports []int, timeout time.Duration) (map[int]struct{}, error)
}

// NewNaabu 创建 naabu 端口探测器。
func NewNaabu(rate int) *Naabu {
	if rate <= 0 {
		rate = 1000
	}
	n := &Naabu{Rate: rate}
	n.enumerate = n.runNaabu
	return n
}

// Probe 与 Dialer 语义一致：至少一个端口开放即为 online。
func (n *Naabu) Probe(ctx context.Context, address string, ports []int, timeout time.Duration) models.PortCheck {
	if len(ports) == 0 {
		return models.PortCheck{Status: models.PortCheckSkipped}
	}

	valid := make([]int, 0, len(ports))
	for _, p := range ports {
		if p >= 1 && p <= 65535 {
			valid = append(valid, p)
		}
	}

	open := map[int]struct{}{}
	var runErr error
	if len(valid) > 0 {
		open, runErr = n.enumerate(ctx, address, valid, timeout)
	}

	res := newPortBatch(len(ports))
	for _, port := range ports {
		switch {
		case port < 1 || port > 65535:
			msg := fmt.Sprintf("invalid port %d", port)
			res.markClosed(port, FailureError, msg)
			res.Error = msg
		case runErr != nil:
			res.markClosed(port, FailureError, runErr.Error())
		default:
			if _, ok := open[port]; ok {
				res.markOpen(port)
			} else {
				res.markClosed(port, FailureClosed, "")
			}
		}
	}
	out := res.result()
	if runErr != nil {
		out.Status = models.PortCheckError
		out.Error = runErr.Error()
	}
	return out
}

func (n *Naabu) runNaabu(ctx context.Context, address string, ports []int, timeout time.Duration) (map[int]struct{}, error) {
	var mu sync.Mutex
	openPorts := make(map[int]struct{})

	onResult := func(hr *result.HostResult) {
		if hr == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, p := range hr.Ports {
			if p == nil {
				continue
			}
			openPorts[p.Port] = struct{}{}
		}
	}

	str := make([]string, len(ports))
	for i, p := range ports {
		str[i] = strconv.Itoa(p)
	}

	opts := runner.Options{
		Host:     goflags.StringSlice{address},
		ScanType: "c",
		OnResult: onResult,
		JSON:     false,
		NoColor:  true,
		Verbose:  false,
		Stdin:    false,
		Stream:   true,
		Ports:    strings.Join(str, ","),
		Retries:  1,
		Rate:     n.Rate,
		Timeout:  timeout,
	}

	r, err := runner.NewRunner(&opts)
	if err != nil {
		return nil, fmt.Errorf("naabu runner init: %w", err)
	}
	defer r.Close()

	if err := r.RunEnumeration(ctx); err != nil {
		return nil, fmt.Errorf("naabu enumeration: %w", err)
	}
	return openPorts, nil
}
