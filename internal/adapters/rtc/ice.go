// Package rtc prepares the ICE configuration handed to browsers for the
// peer-to-peer voice mesh. The hub never terminates media itself.
package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

var ErrNoICEServers = errors.New("no ice servers")

type Server struct {
	URLs       []string
	Username   string
	Credential string
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ICEConfiguration validates every url and returns the browser-facing
// configuration. An empty list falls back to DefaultWebRTCConfig.
func ICEConfiguration(servers []Server) (webrtc.Configuration, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	out := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return webrtc.Configuration{}, fmt.Errorf("ice server %d: %w", i, ErrNoICEServers)
		}
		needsAuth := false
		for _, raw := range s.URLs {
			uri, err := stun.ParseURI(raw)
			if err != nil {
				return webrtc.Configuration{}, fmt.Errorf("ice server %d: %q: %w", i, raw, err)
			}
			if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
				needsAuth = true
			}
		}
		if needsAuth && (s.Username == "" || s.Credential == "") {
			return webrtc.Configuration{}, fmt.Errorf("ice server %d: turn requires username and credential", i)
		}
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out.ICEServers = append(out.ICEServers, srv)
	}
	return out, nil
}
