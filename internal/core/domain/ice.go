package domain

import (
	"bytes"
	"encoding/json"
)

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts urls as either a single string or a list.
func (s *ICEServer) UnmarshalJSON(data []byte) error {
	var wire struct {
		URLs       json.RawMessage `json:"urls"`
		URL        string          `json:"url"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.Username, s.Credential = wire.Username, wire.Credential
	s.URLs = nil
	raw := bytes.TrimSpace(wire.URLs)
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return err
		}
		s.URLs = []string{one}
	case len(raw) > 0 && raw[0] == '[':
		if err := json.Unmarshal(raw, &s.URLs); err != nil {
			return err
		}
	}
	if len(s.URLs) == 0 && wire.URL != "" {
		s.URLs = []string{wire.URL}
	}
	return nil
}

type ICEConfig struct {
	ICEServers         []ICEServer `json:"iceServers"`
	ICETransportPolicy string      `json:"iceTransportPolicy,omitempty"`
}

func (c ICEConfig) Empty() bool { return len(c.ICEServers) == 0 }

func PublicSTUNConfig(urls ...string) ICEConfig {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return ICEConfig{ICEServers: []ICEServer{{URLs: urls}}}
}
