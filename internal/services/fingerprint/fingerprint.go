package fingerprint

// 常见端口对应的服务名称。
var wellKnown = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	53:    "dns",
	80:    "http",
	139:   "netbios",
	443:   "https",
	445:   "smb",
	554:   "rtsp",
	631:   "ipp",
	1883:  "mqtt",
	3389:  "rdp",
	5000:  "upnp",
	5353:  "mdns",
	5900:  "vnc",
	8000:  "http-alt",
	8080:  "http-proxy",
	8443:  "https-alt",
	9100:  "jetdirect",
	62078: "iphone-sync",
}

// NameForPort 返回端口的常见服务名称，未知端口返回空字符串。
func NameForPort(port int) string {
	return wellKnown[port]
}
