package localprobe

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// DefaultPublicResolvers are appended to the system resolvers.
var DefaultPublicResolvers = []string{
	"1.1.1.1",
	"1.0.0.1",
	"8.8.8.8",
	"8.8.4.4",
	"9.9.9.9",
}

func LoadSystemResolvers() ([]string, error) {
	return loadResolvers(resolvConf)
}

func loadResolvers(path string) ([]string, error) {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	return conf.Servers, nil
}

// ResolverChain returns explicit when it names at least one resolver.
// Otherwise it is the system resolvers followed by DefaultPublicResolvers.
// A missing resolv.conf only drops the system part.
func ResolverChain(explicit []string) ([]string, error) {
	if chain := dedupe(explicit); len(chain) > 0 {
		return chain, nil
	}
	system, err := LoadSystemResolvers()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return dedupe(append(system, DefaultPublicResolvers...)), nil
}

func dedupe(resolvers []string) []string {
	seen := make(map[string]bool, len(resolvers))
	var out []string
	for _, r := range resolvers {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
