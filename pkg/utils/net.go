package utils

import (
	"fmt"
	"net"
)

// GetLocalIPs returns the non-loopback interface addresses of this host
func GetLocalIPs(onlyIPv4 bool) ([]string, error) {
	var ips []string

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}

		ip := ipnet.IP
		if ip4 := ip.To4(); ip4 != nil {
			ips = append(ips, ip4.String())
			continue
		}
		if !onlyIPv4 && ip.To16() != nil && !ip.IsLinkLocalUnicast() {
			ips = append(ips, ip.String())
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no non-loopback interface addresses found")
	}
	return ips, nil
}

// ListenURLs expands a listen address such as ":8443" into the ws:// URLs a
// client on the network could dial. Hosts other than the wildcard are returned as-is.
func ListenURLs(addr, path string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	if path == "" {
		path = "/"
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		return []string{fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)}
	}

	urls := []string{fmt.Sprintf("ws://%s%s", net.JoinHostPort("localhost", port), path)}
	ips, err := GetLocalIPs(true)
	if err != nil {
		return urls
	}
	for _, ip := range ips {
		urls = append(urls, fmt.Sprintf("ws://%s%s", net.JoinHostPort(ip, port), path))
	}
	return urls
}
