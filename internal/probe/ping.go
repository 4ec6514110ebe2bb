package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hitushen/netwatch/internal/models"
)

// defaultProcessBuffer 为子进程等待时间在超时之外追加的余量。
const defaultProcessBuffer = 5 * time.Second

var (
	rttPattern  = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)
	lossPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)% (?:packet )?loss`)
)

// PingProber 执行 ICMP 探测。
type PingProber interface {
	Ping(ctx context.Context, address string, count int, timeout time.Duration, retries int) models.PingCheck
}

// Pinger 调用系统 ping 命令。
type Pinger struct {
	GOOS string
	// Run 执行命令并返回标准输出，测试中可替换。
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
	// Sleep 为重试间隔等待，测试中可替换。
	Sleep func(ctx context.Context, d time.Duration) error
	// RetryDelay 为两次尝试之间的等待时间。
	RetryDelay time.Duration
	// ProcessBuffer 为单次子进程在 timeout 之外最多多等的时间，零值取 5s。
	// 超过 timeout+ProcessBuffer 仍未退出的子进程会被终止。
	ProcessBuffer time.Duration
}

// NewPinger 创建使用当前平台 ping 命令的 Pinger。
func NewPinger() *Pinger {
	return &Pinger{
		GOOS:       runtime.GOOS,
		Run:        runCommand,
		Sleep:      sleepContext,
		RetryDelay: time.Second,
	}
}

// Ping 探测目标，失败时间隔重试，最多额外重试 retries 次。
func (p *Pinger) Ping(ctx context.Context, address string, count int, timeout time.Duration, retries int) models.PingCheck {
	if count <= 0 {
		count = 1
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	if retries < 0 {
		retries = 0
	}

	var res models.PingCheck
	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts = attempt + 1
		latency, loss, err := p.once(ctx, address, count, timeout)
		if loss != nil {
			res.PacketLoss = loss
		}
		if err == nil {
			res.LatencyMs = &latency
			res.Error = ""
			return res
		}
		res.Error = err.Error()

		if attempt < retries {
			if err := p.Sleep(ctx, p.RetryDelay); err != nil {
				res.Error = fmt.Sprintf("ping retry aborted: %v", err)
				return res
			}
		}
	}
	return res
}

func (p *Pinger) once(ctx context.Context, address string, count int, timeout time.Duration) (float64, *float64, error) {
	limit := timeout + p.processBuffer()
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	output, runErr := p.Run(runCtx, "ping", p.args(address, count, timeout)...)
	if runCtx.Err() != nil {
		return 0, nil, fmt.Errorf("ping error: timed out after %s", limit)
	}

	text := string(output)
	loss := parsePacketLoss(text)

	if !strings.Contains(text, p.replyMarker()) {
		if runErr != nil && len(strings.TrimSpace(text)) == 0 {
			return 0, loss, fmt.Errorf("ping error: %v", runErr)
		}
		return 0, loss, errors.New("no reply received from host")
	}
	latency, ok := parseMeanRTT(text)
	if !ok {
		return 0, loss, errors.New("could not parse ping time from output")
	}
	return latency, loss, nil
}

func (p *Pinger) processBuffer() time.Duration {
	if p.ProcessBuffer > 0 {
		return p.ProcessBuffer
	}
	return defaultProcessBuffer
}

// args 将次数与超时转换为平台参数：windows 的 -w 单位为毫秒，其余平台 -W 单位为秒。
func (p *Pinger) args(address string, count int, timeout time.Duration) []string {
	seconds := int(timeout / time.Second)
	if p.GOOS == "windows" {
		return []string{"-n", strconv.Itoa(count), "-w", strconv.Itoa(seconds * 1000), address}
	}
	return []string{"-c", strconv.Itoa(count), "-W", strconv.Itoa(seconds), address}
}

func (p *Pinger) replyMarker() string {
	if p.GOOS == "windows" {
		return "Reply from"
	}
	return "bytes from"
}

// parseMeanRTT 返回输出中所有往返时间的算术平均值。
func parseMeanRTT(output string) (float64, bool) {
	matches := rttPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var sum float64
	n := 0
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func parsePacketLoss(output string) *float64 {
	m := lossPattern.FindStringSubmatch(output)
	if len(m) < 2 {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
