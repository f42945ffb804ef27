package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in   string
		want Transport
	}{
		{"udp", TransportUDP},
		{"UDP", TransportUDP},
		{"tcp", TransportTCP},
		{"TCP", TransportTCP},
		{" tcp ", TransportTCP},
		{"quic", TransportUDP},
		{"", TransportUDP},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTransport(tt.in))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	sinkFactory := func(SinkSpec) (Sink, error) { return nil, nil }

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Port: 50000, JitterMs: 20, SinkFactory: sinkFactory}, false},
		{"port floor", Config{Port: 1, JitterMs: 1, SinkFactory: sinkFactory}, false},
		{"port ceiling", Config{Port: 65535, JitterMs: 1, SinkFactory: sinkFactory}, false},
		{"port zero", Config{Port: 0, JitterMs: 20, SinkFactory: sinkFactory}, true},
		{"port too high", Config{Port: 65536, JitterMs: 20, SinkFactory: sinkFactory}, true},
		{"jitter zero", Config{Port: 50000, JitterMs: 0, SinkFactory: sinkFactory}, true},
		{"missing sink factory", Config{Port: 50000, JitterMs: 20}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
