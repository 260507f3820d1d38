package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// clientIP
//
// 인증 실패/발행 실패 로그에 남길 호출자 IP.
// gateway 는 ALB 뒤(서버 모드 또는 Lambda target)에 있으므로
// RemoteAddr 는 대부분 ALB 주소다. 우선순위:
//  1. X-Forwarded-For 의 첫 번째 public IP
//  2. RemoteAddr (public 일 때만)
//
// 찾지 못하면 빈 문자열.
// ------------------------------------------------------------
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := publicIP(part); ip != "" {
				return ip
			}
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return publicIP(host)
	}
	return ""
}

// publicIP 는 s 가 private / loopback / link-local 이 아닌 IP 이면 정규화된 문자열을 돌려준다.
func publicIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ""
	}
	return ip.String()
}
