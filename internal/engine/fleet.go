package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/targets"
)

const (
	allGroup         = "all"
	errScanCancelled = "scan cancelled before check"
)

// Gatekeeper 报告监控主机是否能够出网。
type Gatekeeper interface {
	HostHasInternet(ctx context.Context) bool
}

// DeviceResolver 为单台设备给出判定。
type DeviceResolver interface {
	Resolve(ctx context.Context, d *models.Device, hostOnline bool) models.Verdict
}

// ScanOptions 控制一次批量扫描。
type ScanOptions struct {
	Concurrency   int
	GroupBySubnet bool
}

// FleetScanner 对一批设备执行判定并汇总结果。
type FleetScanner struct {
	resolver DeviceResolver
	gate     Gatekeeper
	now      func() time.Time
}

// NewFleetScanner 创建 FleetScanner。
func NewFleetScanner(resolver DeviceResolver, gate Gatekeeper) *FleetScanner {
	return &FleetScanner{
		resolver: resolver,
		gate:     gate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type outcome struct {
	started bool
	verdict *models.Verdict
	err     string
}

// Scan 执行一次批量扫描。出网检查只做一次；ctx 取消后不再启动新的设备检查，
// 已开始的检查按各自的超时结束。
func (s *FleetScanner) Scan(ctx context.Context, devices []*models.Device, opts ScanOptions) models.FleetScanResult {
	res := models.FleetScanResult{
		ID:          uuid.NewString(),
		StartedAt:   s.now(),
		Total:       len(devices),
		Details:     make([]models.DeviceDetail, len(devices)),
		Transitions: []models.Transition{},
		Groups:      make(map[string]int),
	}
	for i, d := range devices {
		res.Details[i] = detailFor(d)
	}

	if ctx.Err() != nil {
		return s.cancelAll(res)
	}
	res.HostOnline = s.gate.HostHasInternet(ctx)
	if !res.HostOnline && ctx.Err() != nil {
		// 出网检查因取消或超时中断，不能据此判定主机离线。
		return s.cancelAll(res)
	}
	if !res.HostOnline {
		log.Printf("[fleet] host has no internet connection, skipping %d device checks", len(devices))
		res.Message = ErrHostOffline.Error()
		for i := range res.Details {
			res.Details[i].Status = models.StatusNoInternet
			res.Details[i].Error = ErrHostOffline.Error()
		}
		res.NoInternet = len(devices)
		res.FinishedAt = s.now()
		return res
	}

	order, members := partition(devices, opts.GroupBySubnet)
	previous := make([]models.Status, len(devices))
	for i, d := range devices {
		if d != nil {
			previous[i] = d.PreviousStatus()
		}
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	checkCtx := context.WithoutCancel(ctx)
	outcomes := make([]outcome, len(devices))

	var g errgroup.Group
	g.SetLimit(limit)
	for _, group := range order {
		idxs := members[group]
		res.Groups[group] = len(idxs)
		log.Printf("[fleet] checking %d devices on network %s", len(idxs), group)
		for _, idx := range idxs {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				outcomes[idx] = s.checkOne(checkCtx, devices[idx])
				return nil
			})
		}
	}
	_ = g.Wait()

	var latencies, losses []float64
	for i, d := range devices {
		detail := &res.Details[i]
		o := outcomes[i]
		switch {
		case !o.started:
			res.Cancelled++
			detail.Status = models.StatusUnknown
			detail.Error = errScanCancelled
			continue
		case o.verdict == nil:
			res.Errors++
			detail.Status = models.StatusError
			detail.Error = o.err
			log.Printf("[fleet] check failed device=%d name=%q err=%s", detail.DeviceID, detail.Name, o.err)
			continue
		}

		v := o.verdict
		detail.Status = v.Status
		detail.Verdict = v
		detail.Error = v.Error
		switch v.Status {
		case models.StatusOnline:
			res.Online++
			if lat := v.Latency(); lat != nil {
				latencies = append(latencies, *lat)
			}
			if v.PingCheck != nil && v.PingCheck.PacketLoss != nil {
				losses = append(losses, *v.PingCheck.PacketLoss)
			}
		case models.StatusNoInternet:
			res.NoInternet++
		case models.StatusError:
			res.Errors++
		default:
			res.Offline++
		}

		if previous[i] != v.Status {
			res.Transitions = append(res.Transitions, models.Transition{
				DeviceID:  d.ID,
				Name:      d.Name,
				Previous:  previous[i],
				Current:   v.Status,
				Timestamp: v.CheckedAt,
			})
			log.Printf("[fleet] device %s (%s) changed from %s to %s", d.Name, d.Address, previous[i], v.Status)
		}
	}

	res.Latency = summarize(latencies)
	if len(losses) > 0 {
		avg := mean(losses)
		res.AvgPacketLoss = &avg
	}
	res.FinishedAt = s.now()
	log.Printf("[fleet] completed scan id=%s total=%d online=%d offline=%d no_internet=%d errors=%d cancelled=%d",
		res.ID, res.Total, res.Online, res.Offline, res.NoInternet, res.Errors, res.Cancelled)
	return res
}

// cancelAll 将全部设备计入 Cancelled，不修改任何设备。
func (s *FleetScanner) cancelAll(res models.FleetScanResult) models.FleetScanResult {
	for i := range res.Details {
		res.Details[i].Status = models.StatusUnknown
		res.Details[i].Error = errScanCancelled
	}
	res.Cancelled = res.Total
	res.Message = errScanCancelled
	res.FinishedAt = s.now()
	log.Printf("[fleet] scan id=%s cancelled before device checks, devices=%d", res.ID, res.Total)
	return res
}

func (s *FleetScanner) checkOne(ctx context.Context, d *models.Device) (out outcome) {
	out.started = true
	defer func() {
		if rec := recover(); rec != nil {
			out = outcome{started: true, err: fmt.Sprintf("unexpected error: %v", rec)}
		}
	}()
	if d == nil {
		return outcome{started: true, err: "unexpected error: nil device"}
	}
	v := s.resolver.Resolve(ctx, d, true)
	out.verdict = &v
	return out
}

func detailFor(d *models.Device) models.DeviceDetail {
	if d == nil {
		return models.DeviceDetail{Subnet: targets.OthersGroup}
	}
	return models.DeviceDetail{
		DeviceID: d.ID,
		Name:     d.Name,
		Address:  d.Address,
		Subnet:   targets.Subnet(d.Address),
	}
}

// partition 按前三段网段分组，仅用于调度与日志；分组顺序为首次出现的顺序。
func partition(devices []*models.Device, bySubnet bool) ([]string, map[string][]int) {
	var order []string
	members := make(map[string][]int)
	for i, d := range devices {
		key := allGroup
		if bySubnet {
			key = targets.OthersGroup
			if d != nil {
				key = targets.Subnet(d.Address)
			}
		}
		if _, ok := members[key]; !ok {
			order = append(order, key)
		}
		members[key] = append(members[key], i)
	}
	return order, members
}

func summarize(values []float64) models.LatencySummary {
	summary := models.LatencySummary{Samples: len(values)}
	if len(values) == 0 {
		return summary
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	avg := mean(values)
	summary.AvgMs = &avg
	summary.MinMs = &lo
	summary.MaxMs = &hi
	return summary
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
