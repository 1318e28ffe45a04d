package ingress

import "strings"

// resolveSubdomain implements spec §4.5 step 1: host ends with the
// tunnel domain, a verified custom domain, or the local-dev override
// header, in that order.
func (in *Ingress) resolveSubdomain(host, devOverride string) (string, bool) {
	host = strings.ToLower(stripPort(host))

	suffix := "." + in.tunnelDomain
	if strings.HasSuffix(host, suffix) {
		label := strings.TrimSuffix(host, suffix)
		if label != "" && !strings.Contains(label, ".") {
			return label, true
		}
	}

	if sub, ok := in.customDomains[host]; ok {
		return sub, true
	}

	if devOverride != "" {
		return devOverride, true
	}

	return "", false
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i != -1 {
		return host[:i]
	}
	return host
}
