package main

import (
	"errors"
	"os"
	"syscall"
	"testing"
)

func TestWaitForShutdown(t *testing.T) {
	tests := []struct {
		name   string
		signal os.Signal
		err    error
		want   int
	}{
		{"signal", syscall.SIGTERM, nil, 0},
		{"server failure", nil, errors.New("listen tcp :8080: address already in use"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quit := make(chan os.Signal, 1)
			serverErr := make(chan error, 1)
			if tt.signal != nil {
				quit <- tt.signal
			}
			if tt.err != nil {
				serverErr <- tt.err
			}

			if got := waitForShutdown(quit, serverErr); got != tt.want {
				t.Errorf("Expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}
