package models

import "time"

// User 表示已认证的账户信息。
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Site 表示登记设备的机构站点。
type Site struct {
	ID          int64     `json:"id"`
	IndexNumber string    `json:"indexNumber"`
	Name        string    `json:"name"`
	Province    string    `json:"province"`
	District    string    `json:"district"`
	CreatedBy   int64     `json:"createdBy"`
	DeviceCount int       `json:"deviceCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeviceKind 定义设备类型枚举。
type DeviceKind string

const (
	KindRouter DeviceKind = "router"
	KindPhone  DeviceKind = "phone"
	KindPC     DeviceKind = "pc"
	KindLaptop DeviceKind = "laptop"
	KindTablet DeviceKind = "tablet"
	KindOther  DeviceKind = "other"
)

// Valid 判断设备类型是否为已知取值。
func (k DeviceKind) Valid() bool {
	switch k {
	case KindRouter, KindPhone, KindPC, KindLaptop, KindTablet, KindOther:
		return true
	}
	return false
}

// Status 定义连通性判定结果。
type Status string

const (
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusNoInternet Status = "no_internet"
	StatusUnknown    Status = "unknown"
	StatusError      Status = "error"
)

// Valid 判断状态是否为已知取值。
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusNoInternet, StatusUnknown, StatusError:
		return true
	}
	return false
}

// PortCheckStatus 定义端口探测子结果状态。
const (
	PortCheckOnline  = "online"
	PortCheckOffline = "offline"
	PortCheckSkipped = "skipped"
	PortCheckError   = "error"
)

// Device 表示站点下被监控的网络设备。
type Device struct {
	ID        int64      `json:"id"`
	SiteID    int64      `json:"siteId"`
	CreatedBy int64      `json:"createdBy"`
	Name      string     `json:"name"`
	MAC       string     `json:"macAddress"`
	Address   string     `json:"ipAddress,omitempty"`
	Kind      DeviceKind `json:"type"`

	Ports          []int `json:"ports"`
	PingFallback   bool  `json:"pingFallback"`
	PingCount      int   `json:"pingCount"`
	TimeoutSeconds int   `json:"timeoutSeconds"`
	// RetryCount 为 ping 失败后的重试次数，0 表示不重试，负值表示使用引擎默认值。
	RetryCount     int   `json:"retryCount"`

	// 以下字段仅由连通性判定写入。
	Status              Status    `json:"status"`
	LastCheckAttempt    time.Time `json:"lastCheckAttempt,omitempty"`
	LastConfirmedOnline time.Time `json:"lastConfirmedOnline,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	LastVerdict         *Verdict  `json:"lastVerdict,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PreviousStatus 根据缓存的时间戳推导上一次检查的状态。
func (d *Device) PreviousStatus() Status {
	if !d.LastConfirmedOnline.IsZero() && !d.LastConfirmedOnline.Before(d.LastCheckAttempt) {
		return StatusOnline
	}
	return StatusOffline
}

// PortFailure 记录单个端口探测失败的原因。
type PortFailure struct {
	Port    int    `json:"port"`
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// PortCheck 为端口探测子结果。
type PortCheck struct {
	Attempted int            `json:"portsChecked"`
	OpenCount int            `json:"portsOpen"`
	Open      []int          `json:"openPorts"`
	Closed    []int          `json:"closedPorts"`
	Failures  []PortFailure  `json:"failures,omitempty"`
	Services  map[int]string `json:"services,omitempty"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// PingCheck 为 ICMP 探测子结果。
type PingCheck struct {
	LatencyMs  *float64 `json:"latencyMs"`
	PacketLoss *float64 `json:"packetLoss"`
	Error      string   `json:"error,omitempty"`
	Attempts   int      `json:"attempts"`
}

// Verdict 为一次连通性判定的结构化结果。
type Verdict struct {
	Status    Status     `json:"status"`
	CheckedAt time.Time  `json:"timestamp"`
	Address   string     `json:"ip"`
	Kind      DeviceKind `json:"deviceType"`
	PortCheck *PortCheck `json:"portCheck"`
	PingCheck *PingCheck `json:"pingCheck"`
	Error     string     `json:"error,omitempty"`
}

// Latency 返回 ping 子结果测得的延迟。
func (v Verdict) Latency() *float64 {
	if v.PingCheck == nil {
		return nil
	}
	return v.PingCheck.LatencyMs
}

// DeviceDetail 为批量扫描中单台设备的记录。
type DeviceDetail struct {
	DeviceID int64    `json:"deviceId"`
	Name     string   `json:"name"`
	Address  string   `json:"ip,omitempty"`
	Subnet   string   `json:"subnet"`
	Status   Status   `json:"status"`
	Verdict  *Verdict `json:"verdict,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Transition 记录设备状态的一次变化。
type Transition struct {
	DeviceID  int64     `json:"deviceId"`
	Name      string    `json:"name"`
	Previous  Status    `json:"previous"`
	Current   Status    `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

// LatencySummary 汇总在线设备的延迟统计。
type LatencySummary struct {
	Samples int      `json:"samples"`
	AvgMs   *float64 `json:"avgLatencyMs"`
	MinMs   *float64 `json:"minLatencyMs"`
	MaxMs   *float64 `json:"maxLatencyMs"`
}

// FleetScanResult 为一次批量扫描的汇总。
type FleetScanResult struct {
	ID            string         `json:"id"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	HostOnline    bool           `json:"hostOnline"`
	Message       string         `json:"message,omitempty"`
	Total         int            `json:"total"`
	Online        int            `json:"online"`
	Offline       int            `json:"offline"`
	NoInternet    int            `json:"noInternet"`
	Errors        int            `json:"errors"`
	// Cancelled 统计因截止时间或取消而未完成检查的设备，不修改这些设备。
	// 恒有 Online+Offline+NoInternet+Errors+Cancelled == Total。
	Cancelled     int            `json:"cancelled"`
	Groups        map[string]int `json:"groups,omitempty"`
	Details       []DeviceDetail `json:"details"`
	Transitions   []Transition   `json:"transitions"`
	Latency       LatencySummary `json:"latency"`
	AvgPacketLoss *float64       `json:"avgPacketLoss,omitempty"`
}

// ScanRun 为持久化的扫描历史摘要。
type ScanRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	HostOnline  bool      `json:"hostOnline"`
	Total       int       `json:"total"`
	Online      int       `json:"online"`
	Offline     int       `json:"offline"`
	NoInternet  int       `json:"noInternet"`
	Errors      int       `json:"errors"`
	Cancelled   int       `json:"cancelled"`
	Transitions int       `json:"transitions"`
	AvgLatency  *float64  `json:"avgLatencyMs,omitempty"`
}
