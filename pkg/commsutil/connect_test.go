package commsutil

import "testing"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-comms-server", "test-client")
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatal("expected error for invalid URL")
	}
	if nc != nil {
		t.Error("expected nil connection on error")
	}
}
