package targets

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrInvalidAddress 表示地址缺失或不是合法的 IPv4。
	ErrInvalidAddress = errors.New("invalid IP address format")
	// ErrInvalidMacFormat 表示 MAC 地址无法规范化。
	ErrInvalidMacFormat = errors.New("invalid MAC address format")
)

// OthersGroup 为无法解析子网的设备所在分组。
const OthersGroup = "others"

// IsValidIPv4 判断字符串是否为点分十进制 IPv4，每段 1-3 位且不大于 255。
func IsValidIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return false
		}
		n := 0
		for i := 0; i < len(part); i++ {
			c := part[i]
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// IsValidAddress 供外部校验层在调用引擎前使用。
func IsValidAddress(s string) bool {
	return IsValidIPv4(s)
}

// CheckAddress 校验设备地址，失败时返回带说明的 ErrInvalidAddress。
func CheckAddress(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("device has no IP address")
	}
	if !IsValidIPv4(s) {
		return ErrInvalidAddress
	}
	return nil
}

// NormalizeMAC 去除分隔符并转为大写，输出 XX:XX:XX:XX:XX:XX 形式。
func NormalizeMAC(mac string) (string, error) {
	raw := strings.ToUpper(strings.TrimSpace(mac))
	raw = strings.NewReplacer(":", "", "-", "", ".", "").Replace(raw)
	if len(raw) != 12 {
		return "", ErrInvalidMacFormat
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			return "", ErrInvalidMacFormat
		}
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(raw[i : i+2])
	}
	return b.String(), nil
}

// Subnet 返回地址的前三段，用于按网段分组。
func Subnet(address string) string {
	if !IsValidIPv4(address) {
		return OthersGroup
	}
	return address[:strings.LastIndexByte(address, '.')]
}

// Normalize 对用户输入的地址进行裁剪并提取主机部分。
func Normalize(address string) string {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return ""
	}

	// 处理带协议前缀的输入。
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			addr = u.Host
		}
	}
	addr = strings.TrimPrefix(addr, "//")

	if at := strings.LastIndex(addr, "@"); at != -1 {
		addr = addr[at+1:]
	}
	if slash := strings.IndexByte(addr, '/'); slash != -1 {
		addr = addr[:slash]
	}
	if ques := strings.IndexByte(addr, '?'); ques != -1 {
		addr = addr[:ques]
	}

	// 对单冒号 host:port 的写法剥离端口。
	if strings.Count(addr, ":") == 1 {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
	}

	return strings.ToLower(strings.TrimSpace(addr))
}
