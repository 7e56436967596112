package validation

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"rendezlink/internal/core/domain"
)

var (
	// HostnameRegex validates DNS names and IPv4 literals.
	HostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
)

const maxOptionLength = 1024

// ValidateOption checks a value before it is written to the option store.
// The empty value clears an option and is always accepted.
func ValidateOption(key, value string) error {
	if value == "" {
		return nil
	}
	if err := ValidateStringLength(value, 1, maxOptionLength, key); err != nil {
		return err
	}

	switch key {
	case domain.OptionStopService, domain.OptionDirectServer:
		if value != domain.OptionEnabledValue {
			return fmt.Errorf("%s must be %q or empty", key, domain.OptionEnabledValue)
		}
	case domain.OptionDirectAccessPort:
		return ValidatePort(value)
	case domain.OptionCustomRendezvousServer:
		return ValidateHostList(value)
	case domain.OptionRendezvousServers:
		for _, entry := range strings.Split(value, domain.ServerListSeparator) {
			if entry = strings.TrimSpace(entry); entry == "" {
				continue
			}
			if err := ValidateHostList(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidatePort validates a decimal TCP/UDP port number.
func ValidatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateHostList validates a ';'-joined list of rendezvous hosts, each
// optionally carrying a ws/wss scheme and a port.
func ValidateHostList(list string) error {
	hosts := 0
	for _, entry := range strings.Split(list, domain.HostListSeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if err := ValidateHost(entry); err != nil {
			return err
		}
		hosts++
	}
	if hosts == 0 {
		return fmt.Errorf("host list is empty")
	}
	return nil
}

// ValidateHost validates a single host list entry.
func ValidateHost(entry string) error {
	if i := strings.Index(entry, "://"); i >= 0 {
		scheme := strings.ToLower(entry[:i])
		if scheme != domain.DefaultScheme && scheme != domain.SecureScheme {
			return fmt.Errorf("unsupported scheme %q", scheme)
		}
		entry = entry[i+3:]
	}
	if i := strings.IndexAny(entry, "/?#"); i >= 0 {
		entry = entry[:i]
	}

	host := entry
	if h, port, err := net.SplitHostPort(entry); err == nil {
		if err := ValidatePort(port); err != nil {
			return err
		}
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if host == "" {
		return fmt.Errorf("host is required")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 || !HostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid host %q", host)
	}
	return nil
}

// ValidateStringLength validates string length in characters.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
