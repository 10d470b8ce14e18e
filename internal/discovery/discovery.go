// Package discovery announces the server on the local network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
)

// DefaultService is the DNS-SD service type that is announced.
const DefaultService = "_collabtext._tcp"

const domain = "local."

// Announcement is a live mDNS registration.
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers this host under service on port. The TXT record
// carries the websocket path and the server version.
func Announce(service string, port int, version string) (*Announcement, error) {
	if service == "" {
		service = DefaultService
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	server, err := zeroconf.Register(
		fmt.Sprintf("CollabText-%s", host),
		service,
		domain,
		port,
		[]string{"path=/ws", "version=" + version},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service %s: %w", service, err)
	}

	logging.Info().Str("service", service).Int("port", port).Msg("mDNS service registered")
	return &Announcement{server: server}, nil
}

// Shutdown withdraws the announcement.
func (a *Announcement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Peer is another server found on the network.
type Peer struct {
	Instance string
	Host     string
	Port     int
	Text     []string
}

// Browse lists peers announcing service until timeout elapses or ctx ends.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]Peer, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan []Peer, 1)
	go func() {
		var peers []Peer
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					collected <- peers
					return
				}
				peers = append(peers, peerFromEntry(entry))
			case <-ctx.Done():
				collected <- peers
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS service %s: %w", service, err)
	}
	<-ctx.Done()
	return <-collected, nil
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	p := Peer{Instance: e.Instance, Host: e.HostName, Port: e.Port, Text: e.Text}
	if len(e.AddrIPv4) > 0 {
		p.Host = e.AddrIPv4[0].String()
	}
	return p
}
