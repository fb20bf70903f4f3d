package utils

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ExtractServerName returns a short, lower-case name of the server a DSN
// points at, suitable as a lock-name prefix. localhost, loopback addresses and
// file-backed databases resolve to the machine's hostname; other IP addresses
// are kept whole.
func ExtractServerName(driver, dsn string) (string, error) {
	host, err := dsnHost(driver, dsn)
	if err != nil {
		return "", err
	}

	if host == "" || strings.EqualFold(host, "localhost") || isLoopback(host) {
		hostname, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("failed to get hostname: %w", err)
		}
		host = hostname
	}

	if ip := parseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}

	// Keep the first DNS label; "db1.example.com" and "db1" name the same server.
	serverName := strings.Split(host, ".")[0]
	if serverName == "" {
		return "", fmt.Errorf("server name not found in connection string")
	}
	return strings.ToLower(serverName), nil
}

func dsnHost(driver, dsn string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "", nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("failed to parse connection string: %w", err)
		}
		return hostOnly(cfg.Addr), nil
	}

	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("failed to parse connection string: %w", err)
		}
		return u.Hostname(), nil
	}

	// Keyword forms: "server=host,1433;user id=sa" or "host=db port=5432".
	sep := " "
	if strings.Contains(dsn, ";") {
		sep = ";"
	}
	for _, part := range strings.Split(dsn, sep) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "server", "host", "data source", "address", "addr":
			value = strings.TrimPrefix(strings.TrimSpace(value), "tcp:")
			value, _, _ = strings.Cut(value, ",")
			value, _, _ = strings.Cut(value, `\`)
			return hostOnly(value), nil
		}
	}
	return "", fmt.Errorf("server name not found in connection string")
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func parseIP(host string) net.IP {
	return net.ParseIP(strings.Trim(host, "[]"))
}

func isLoopback(host string) bool {
	ip := parseIP(host)
	return ip != nil && ip.IsLoopback()
}
