package relay

import (
	"testing"
	"time"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		options *Options
		wantErr bool
	}{
		{"defaults", &Options{HandshakeTimeout: 10, DrainTimeout: 5}, false},
		{"no drain", &Options{HandshakeTimeout: 10, DrainTimeout: 0}, false},
		{"zero handshake timeout", &Options{HandshakeTimeout: 0, DrainTimeout: 5}, true},
		{"negative drain timeout", &Options{HandshakeTimeout: 10, DrainTimeout: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.options.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptionsDurations(t *testing.T) {
	options := &Options{HandshakeTimeout: 10, DrainTimeout: 5}
	if options.handshakeTimeout() != 10*time.Second {
		t.Errorf("handshakeTimeout() = %v", options.handshakeTimeout())
	}
	if options.drainTimeout() != 5*time.Second {
		t.Errorf("drainTimeout() = %v", options.drainTimeout())
	}
}
