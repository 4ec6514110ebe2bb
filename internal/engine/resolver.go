package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/probe"
	"github.com/hitushen/netwatch/internal/targets"
)

// ErrHostOffline 表示监控主机自身无法出网，判定结果与设备无关。
var ErrHostOffline = errors.New("host has no internet connection")

// Defaults 为设备策略字段缺省时使用的取值。
// Ports、PingCount 与 TimeoutSeconds 在设备取零值时生效；RetryCount 仅在设备取负值时生效，
// 因为 0 表示明确不重试。HTTP 层与存储层在创建设备时已写入默认重试次数。
type Defaults struct {
	Ports          []int
	PingCount      int
	TimeoutSeconds int
	RetryCount     int
}

// DefaultPolicy 返回与原有行为一致的默认策略。
func DefaultPolicy() Defaults {
	return Defaults{
		Ports:          append([]int(nil), probe.DefaultPorts...),
		PingCount:      3,
		TimeoutSeconds: 5,
		RetryCount:     2,
	}
}

// Resolver 组合端口探测与 ping 探测，为单台设备给出判定。
type Resolver struct {
	ports    probe.PortProber
	pinger   probe.PingProber
	defaults Defaults
	now      func() time.Time

	locks sync.Map // MAC -> *sync.Mutex
}

// NewResolver 创建 Resolver。
func NewResolver(ports probe.PortProber, pinger probe.PingProber, defaults Defaults) *Resolver {
	if len(defaults.Ports) == 0 {
		defaults.Ports = append([]int(nil), probe.DefaultPorts...)
	}
	if defaults.PingCount <= 0 {
		defaults.PingCount = 3
	}
	if defaults.TimeoutSeconds <= 0 {
		defaults.TimeoutSeconds = 5
	}
	if defaults.RetryCount < 0 {
		defaults.RetryCount = 0
	}
	return &Resolver{
		ports:    ports,
		pinger:   pinger,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve 依次执行地址校验、出网检查、端口探测与 ping 回退，并写回设备的易变字段。
// hostOnline 为 false 时不会探测设备。
func (r *Resolver) Resolve(ctx context.Context, d *models.Device, hostOnline bool) models.Verdict {
	mu := r.lockFor(d)
	mu.Lock()
	defer mu.Unlock()

	v := r.evaluate(ctx, d, hostOnline)
	r.apply(d, v)
	return v
}

func (r *Resolver) evaluate(ctx context.Context, d *models.Device, hostOnline bool) models.Verdict {
	v := models.Verdict{
		Status:    models.StatusOffline,
		CheckedAt: r.now(),
		Address:   d.Address,
		Kind:      d.Kind,
	}

	if err := targets.CheckAddress(d.Address); err != nil {
		v.Error = err.Error()
		return v
	}

	if !hostOnline {
		v.Status = models.StatusUnknown
		v.Error = ErrHostOffline.Error()
		return v
	}

	timeout := time.Duration(r.timeoutSeconds(d)) * time.Second

	ports := d.Ports
	if len(ports) == 0 {
		ports = r.defaults.Ports
	}
	portCheck := r.ports.Probe(ctx, d.Address, ports, timeout)
	v.PortCheck = &portCheck
	if portCheck.Status == models.PortCheckOnline {
		v.Status = models.StatusOnline
		return v
	}

	if d.PingFallback {
		pingCheck := r.pinger.Ping(ctx, d.Address, r.pingCount(d), timeout, r.retryCount(d))
		v.PingCheck = &pingCheck
		if pingCheck.LatencyMs != nil {
			v.Status = models.StatusOnline
			return v
		}
	}

	switch {
	case v.PortCheck.Error != "":
		v.Error = v.PortCheck.Error
	case v.PingCheck != nil && v.PingCheck.Error != "":
		v.Error = v.PingCheck.Error
	default:
		v.Error = "device is unreachable"
	}
	return v
}

func (r *Resolver) apply(d *models.Device, v models.Verdict) {
	d.LastCheckAttempt = v.CheckedAt
	if v.Status == models.StatusOnline {
		d.LastConfirmedOnline = v.CheckedAt
	}
	d.Status = v.Status
	d.LastError = v.Error
	verdict := v
	d.LastVerdict = &verdict
}

func (r *Resolver) lockFor(d *models.Device) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(lockKey(d), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Forget 移除设备的锁。之后的 Resolve 会重新创建。
func (r *Resolver) Forget(d *models.Device) {
	if d == nil {
		return
	}
	r.locks.Delete(lockKey(d))
}

func lockKey(d *models.Device) string {
	if d.MAC != "" {
		return d.MAC
	}
	return d.Name
}

func (r *Resolver) timeoutSeconds(d *models.Device) int {
	if d.TimeoutSeconds > 0 {
		return d.TimeoutSeconds
	}
	return r.defaults.TimeoutSeconds
}

func (r *Resolver) pingCount(d *models.Device) int {
	if d.PingCount > 0 {
		return d.PingCount
	}
	return r.defaults.PingCount
}

func (r *Resolver) retryCount(d *models.Device) int {
	if d.RetryCount >= 0 {
		return d.RetryCount
	}
	return r.defaults.RetryCount
}
