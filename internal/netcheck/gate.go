package netcheck

import (
	"context"
	"log"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Gate 模式。
const (
	ModeDial = "dial"
	ModeDNS  = "dns"
)

// DefaultTargets 为默认探测的公共 DNS 解析器，来自两家独立服务商。
var DefaultTargets = []string{"8.8.8.8", "1.1.1.1"}

// Config 描述主机出网检测参数。
type Config struct {
	Targets []string
	Port    string
	Timeout time.Duration
	Mode    string
	// Probe 为空时按 Mode 选择实现，测试中可替换。
	Probe func(ctx context.Context, address string, timeout time.Duration) error
}

// Gate 判断监控主机自身是否具备出网能力。
type Gate struct {
	targets []string
	port    string
	timeout time.Duration
	mode    string
	probe   func(ctx context.Context, address string, timeout time.Duration) error
}

// New 根据配置创建 Gate，未设置的字段使用默认值。
func New(cfg Config) *Gate {
	g := &Gate{
		targets: cfg.Targets,
		port:    strings.TrimSpace(cfg.Port),
		timeout: cfg.Timeout,
		mode:    cfg.Mode,
		probe:   cfg.Probe,
	}
	if len(g.targets) == 0 {
		g.targets = DefaultTargets
	}
	if g.port == "" {
		g.port = "53"
	}
	if g.timeout <= 0 {
		g.timeout = 3 * time.Second
	}
	if g.mode == "" {
		g.mode = ModeDial
	}
	if g.probe == nil {
		if g.mode == ModeDNS {
			g.probe = queryDNS
		} else {
			g.probe = dialTCP
		}
	}
	return g
}

// HostHasInternet 依次尝试各解析器，任一成功即返回 true。
func (g *Gate) HostHasInternet(ctx context.Context) bool {
	for _, target := range g.targets {
		if ctx.Err() != nil {
			return false
		}
		address := strings.TrimSpace(target)
		if address == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(address); err != nil {
			address = net.JoinHostPort(address, g.port)
		}
		if err := g.probe(ctx, address, g.timeout); err != nil {
			log.Printf("[gate] probe failed target=%s mode=%s err=%v", address, g.mode, err)
			continue
		}
		return true
	}
	return false
}

func dialTCP(ctx context.Context, address string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func queryDNS(ctx context.Context, address string, timeout time.Duration) error {
	client := &dns.Client{Net: "tcp", Timeout: timeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	msg.RecursionDesired = true
	_, _, err := client.ExchangeContext(ctx, msg, address)
	return err
}
