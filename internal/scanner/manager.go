package scanner

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/realtime"
	"github.com/hitushen/netwatch/internal/store"
)

// ErrScanInProgress 表示已有批量扫描正在执行。
var ErrScanInProgress = errors.New("fleet scan already in progress")

// DeviceStore 是 Manager 依赖的持久化能力。
type DeviceStore interface {
	ListDevices(ctx context.Context, q store.DeviceQuery) ([]*models.Device, error)
	GetDevice(ctx context.Context, id int64) (*models.Device, error)
	SaveVerdict(ctx context.Context, d *models.Device) error
	RecordScan(ctx context.Context, res models.FleetScanResult) error
}

// Checker 执行连通性判定，由 engine.Engine 实现。
type Checker interface {
	ResolveOne(ctx context.Context, d *models.Device) models.Verdict
	ScanFleet(ctx context.Context, devices []*models.Device, concurrency int, deadline time.Time) models.FleetScanResult
	Forget(d *models.Device)
}

// Options 控制后台任务的并发与时限。
type Options struct {
	Workers         int
	ScanConcurrency int
	ScanDeadline    time.Duration
}

// Manager 负责协调后台设备检查与周期性批量扫描。
type Manager struct {
	store    DeviceStore
	checker  Checker
	realtime *realtime.Broker
	opts     Options

	jobs         chan int64
	pending      sync.Map
	scanning     atomic.Bool
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	stopCh       chan struct{}
}

// NewManager 按照指定参数启动工作协程。
func NewManager(st DeviceStore, checker Checker, broker *realtime.Broker, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ScanConcurrency <= 0 {
		opts.ScanConcurrency = 1
	}
	m := &Manager{
		store:    st,
		checker:  checker,
		realtime: broker,
		opts:     opts,
		jobs:     make(chan int64, opts.Workers*4),
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// ScheduleDevice 为设备排入一次立即检查。设备已在队列中或 Manager 已关闭时返回 false。
func (m *Manager) ScheduleDevice(id int64) bool {
	if _, loaded := m.pending.LoadOrStore(id, struct{}{}); loaded {
		return false
	}
	select {
	case <-m.stopCh:
		m.pending.Delete(id)
		return false
	default:
	}
	select {
	case m.jobs <- id:
		log.Printf("[scanner] enqueued device check id=%d", id)
		return true
	case <-m.stopCh:
		m.pending.Delete(id)
		return false
	}
}

// CheckDevice 同步检查单台设备并持久化结果。ctx 被取消时不保存任何判定。
func (m *Manager) CheckDevice(ctx context.Context, id int64) (*models.Device, models.Verdict, error) {
	d, err := m.store.GetDevice(ctx, id)
	if err != nil {
		return nil, models.Verdict{}, err
	}
	previous := d.PreviousStatus()
	v := m.checker.ResolveOne(ctx, d)
	if err := ctx.Err(); err != nil {
		log.Printf("[scanner] device check id=%d cancelled err=%v", id, err)
		return d, v, err
	}
	if err := m.store.SaveVerdict(ctx, d); err != nil {
		return d, v, err
	}
	m.publishVerdict(d, v)
	if v.Status != previous {
		m.publishTransition(models.Transition{
			DeviceID:  d.ID,
			Name:      d.Name,
			Previous:  previous,
			Current:   v.Status,
			Timestamp: v.CheckedAt,
		}, d.SiteID)
	}
	return d, v, nil
}

// Forget 在设备删除后释放检查器为其保留的状态。
func (m *Manager) Forget(d *models.Device) {
	m.checker.Forget(d)
}

// ScanNow 同步执行一次覆盖全部设备的批量扫描，并保存判定与扫描记录。
func (m *Manager) ScanNow(ctx context.Context) (models.FleetScanResult, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		return models.FleetScanResult{}, ErrScanInProgress
	}
	defer m.scanning.Store(false)

	devices, err := m.store.ListDevices(ctx, store.DeviceQuery{})
	if err != nil {
		return models.FleetScanResult{}, err
	}
	m.realtime.Publish(realtime.Event{
		Type:    realtime.EventScanStarted,
		Payload: map[string]interface{}{"devices": len(devices), "started": time.Now().UTC()},
	})

	var deadline time.Time
	if m.opts.ScanDeadline > 0 {
		deadline = time.Now().Add(m.opts.ScanDeadline)
	}
	res := m.checker.ScanFleet(ctx, devices, m.opts.ScanConcurrency, deadline)

	persistCtx := context.WithoutCancel(ctx)
	sites := make(map[int64]int64, len(devices))
	for i, d := range devices {
		if d == nil || res.Details[i].Verdict == nil {
			continue
		}
		sites[d.ID] = d.SiteID
		if err := m.store.SaveVerdict(persistCtx, d); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			log.Printf("[scanner] save verdict failed device=%d err=%v", d.ID, err)
		}
	}
	for _, tr := range res.Transitions {
		m.publishTransition(tr, sites[tr.DeviceID])
	}
	if err := m.store.RecordScan(persistCtx, res); err != nil {
		log.Printf("[scanner] record scan failed id=%s err=%v", res.ID, err)
	}

	m.realtime.Publish(realtime.Event{
		Type: realtime.EventScanCompleted,
		Payload: map[string]interface{}{
			"id":          res.ID,
			"hostOnline":  res.HostOnline,
			"total":       res.Total,
			"online":      res.Online,
			"offline":     res.Offline,
			"noInternet":  res.NoInternet,
			"errors":      res.Errors,
			"cancelled":   res.Cancelled,
			"transitions": len(res.Transitions),
			"latency":     res.Latency,
			"completed":   res.FinishedAt,
		},
	})
	return res, nil
}

// StartTicker 启动周期任务，定期扫描所有设备；上一轮未结束时跳过本轮。
func (m *Manager) StartTicker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.wg.Add(1)
				go func() {
					defer m.wg.Done()
					m.scanAll()
				}()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) scanAll() {
	start := time.Now()
	res, err := m.ScanNow(context.Background())
	if errors.Is(err, ErrScanInProgress) {
		log.Printf("[scanner] previous fleet scan still running, skipping tick")
		return
	}
	if err != nil {
		log.Printf("[scanner] periodic scan failed err=%v", err)
		return
	}
	log.Printf("[scanner] periodic scan id=%s total=%d online=%d transitions=%d duration=%s",
		res.ID, res.Total, res.Online, len(res.Transitions), time.Since(start).Truncate(time.Millisecond))
}

// Close 优雅停止所有后台协程。
func (m *Manager) Close() {
	m.shutdownOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case id := <-m.jobs:
			m.handleJob(id)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) handleJob(id int64) {
	defer m.pending.Delete(id)
	d, v, err := m.CheckDevice(context.Background(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[scanner] device id=%d removed before check", id)
			return
		}
		log.Printf("[scanner] device check failed id=%d err=%v", id, err)
		return
	}
	log.Printf("[scanner] device check id=%d name=%q status=%s", d.ID, d.Name, v.Status)
}

func (m *Manager) publishVerdict(d *models.Device, v models.Verdict) {
	m.realtime.Publish(realtime.Event{
		Type:     realtime.EventDeviceVerdict,
		DeviceID: d.ID,
		SiteID:   d.SiteID,
		Payload:  v,
	})
}

func (m *Manager) publishTransition(tr models.Transition, siteID int64) {
	m.realtime.Publish(realtime.Event{
		Type:     realtime.EventDeviceTransition,
		DeviceID: tr.DeviceID,
		SiteID:   siteID,
		Payload:  tr,
	})
}
