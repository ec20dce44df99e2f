package scanner

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/gosnmp/gosnmp"
)

const sysDescrOID = ".1.3.6.1.2.1.1.1.0"

// Enrichment is the extra identity gathered for a discovered host.
type Enrichment struct {
	Hostname  string
	SysDescr  string
	Community string
}

// Enrich resolves hostnames and probes SNMP sysDescr for each host,
// concurrently. Hosts that answer neither simply get an empty Enrichment.
// Communities are tried in order (falling back to the configured list when
// empty); the first one that answers is recorded so a later device
// registration can reuse it.
func (s *Scanner) Enrich(ctx context.Context, ips []string, communities []string) map[string]Enrichment {
	if len(communities) == 0 {
		communities = s.cfg.Communities
	}
	var mu sync.Mutex
	out := make(map[string]Enrichment, len(ips))

	var wg sync.WaitGroup
	slots := make(chan struct{}, s.cfg.MaxConcurrent)
	for _, ip := range ips {
		wg.Add(1)
		slots <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-slots }()
			e := Enrichment{Hostname: reverseLookup(ctx, ip)}
			e.SysDescr, e.Community = s.probeSysDescr(ctx, ip, communities)
			mu.Lock()
			out[ip] = e
			mu.Unlock()
		}(ip)
	}
	wg.Wait()
	return out
}

func reverseLookup(ctx context.Context, ip string) string {
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// probeSysDescr tries each community until one answers.
func (s *Scanner) probeSysDescr(ctx context.Context, ip string, communities []string) (descr, community string) {
	for _, c := range communities {
		client := &gosnmp.GoSNMP{
			Target:    ip,
			Port:      161,
			Community: c,
			Version:   gosnmp.Version2c,
			Timeout:   s.cfg.Timeout,
			Retries:   0,
			Context:   ctx,
		}
		if err := client.Connect(); err != nil {
			continue
		}
		result, err := client.Get([]string{sysDescrOID})
		client.Conn.Close()
		if err != nil || len(result.Variables) == 0 {
			continue
		}
		pdu := result.Variables[0]
		if raw, ok := pdu.Value.([]byte); ok && len(raw) > 0 {
			return string(raw), c
		}
	}
	return "", ""
}
