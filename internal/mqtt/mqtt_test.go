package mqtt

import (
	"net/url"
	"testing"
)

func TestBrokerServer(t *testing.T) {
	cases := map[string]string{
		"mqtt://broker:1883":    "tcp://broker:1883",
		"tcp://10.0.0.2:1883":   "tcp://10.0.0.2:1883",
		"tls://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range cases {
		u, err := url.Parse(in)
		if err != nil {
			t.Fatalf("parse %s: %v", in, err)
		}
		got, err := brokerServer(u)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
	u, _ := url.Parse("http://broker")
	if _, err := brokerServer(u); err == nil {
		t.Fatalf("expected error for http scheme")
	}
}
