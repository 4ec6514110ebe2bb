package engine

import (
	"context"
	"time"

	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/probe"
	"github.com/hitushen/netwatch/internal/targets"
)

// Engine 是连通性引擎对外暴露的入口，供存储层、HTTP 层与调度器调用。
type Engine struct {
	gate     Gatekeeper
	resolver *Resolver
	fleet    *FleetScanner
}

// New 组装引擎。
func New(gate Gatekeeper, ports probe.PortProber, pinger probe.PingProber, defaults Defaults) *Engine {
	resolver := NewResolver(ports, pinger, defaults)
	return &Engine{
		gate:     gate,
		resolver: resolver,
		fleet:    NewFleetScanner(resolver, gate),
	}
}

// ResolveOne 同步检查单台设备，每次都重新做出网检查。
// ctx 在检查开始前或出网检查期间被取消时，返回 unknown 判定且不修改设备。
func (e *Engine) ResolveOne(ctx context.Context, d *models.Device) models.Verdict {
	if err := ctx.Err(); err != nil {
		return cancelledVerdict(d, err)
	}
	hostOnline := true
	if targets.IsValidIPv4(d.Address) {
		hostOnline = e.gate.HostHasInternet(ctx)
		if !hostOnline && ctx.Err() != nil {
			return cancelledVerdict(d, ctx.Err())
		}
	}
	return e.resolver.Resolve(ctx, d, hostOnline)
}

// Forget 释放设备对应的串行化锁，在设备删除后调用。
func (e *Engine) Forget(d *models.Device) {
	e.resolver.Forget(d)
}

func cancelledVerdict(d *models.Device, err error) models.Verdict {
	return models.Verdict{
		Status:    models.StatusUnknown,
		CheckedAt: time.Now().UTC(),
		Address:   d.Address,
		Kind:      d.Kind,
		Error:     "check cancelled: " + err.Error(),
	}
}

// ScanFleet 在并发上限与截止时间内扫描整批设备。deadline 为零值时不设截止。
func (e *Engine) ScanFleet(ctx context.Context, devices []*models.Device, concurrency int, deadline time.Time) models.FleetScanResult {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return e.fleet.Scan(ctx, devices, ScanOptions{Concurrency: concurrency, GroupBySubnet: true})
}

// IsValidAddress 校验 IPv4 地址。
func IsValidAddress(s string) bool {
	return targets.IsValidAddress(s)
}

// NormalizeMac 规范化 MAC 地址，失败时 ok 为 false。
func NormalizeMac(s string) (string, bool) {
	mac, err := targets.NormalizeMAC(s)
	return mac, err == nil
}
