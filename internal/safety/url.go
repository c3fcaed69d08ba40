package safety

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/32"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// SanitizeURL enforces http(s), requires a host, rejects localhost names and drops the fragment.
func SanitizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newError(ErrInvalidURL, "Missing url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(ErrInvalidURL, "Invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(ErrInvalidURL, "Only http/https URLs are allowed")
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, newError(ErrInvalidURL, "URL must include a host")
	}
	if host == "localhost" || host == "ip6-localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, newError(ErrInvalidURL, "Localhost URLs are not allowed")
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// ValidateURL sanitizes raw and ensures every address the host resolves to is public.
func (v *Validator) ValidateURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := SanitizeURL(raw)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivateAddr(addr) {
			return nil, newError(ErrPrivateAddress, "Private or loopback addresses are not allowed")
		}
		return u, nil
	}

	addrs, err := v.resolver().LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return nil, newError(ErrUnresolvableHost, "Host could not be resolved")
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok || IsPrivateAddr(addr) {
			return nil, newError(ErrPrivateAddress, "Host resolves to a private or loopback address")
		}
	}
	return u, nil
}

// IsPrivateAddr reports whether addr falls in a loopback, private, link-local or unspecified range.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (v *Validator) resolver() Resolver {
	if v.Resolver != nil {
		return v.Resolver
	}
	return net.DefaultResolver
}
