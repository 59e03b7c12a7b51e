package netif

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ipNet(s string) *net.IPNet {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func TestCandidatesFrom(t *testing.T) {
	list := func() ([]Interface, error) {
		return []Interface{
			{Name: "lo", Up: true, Addrs: []net.Addr{ipNet("127.0.0.1/8")}},
			{Name: "en0", Up: true, Addrs: []net.Addr{
				ipNet("fe80::1/64"),
				ipNet("192.168.1.20/24"),
			}},
			{Name: "en1", Up: false, Addrs: []net.Addr{ipNet("10.0.0.5/8")}},
			{Name: "en2", Up: true, Addrs: []net.Addr{&net.IPAddr{IP: net.IPv4(10, 1, 1, 1)}}},
		}, nil
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"en", []string{"192.168.1.20", "10.1.1.1"}},
		{"en0", []string{"192.168.1.20"}},
		{"wlan", nil},
		{"", []string{"127.0.0.1", "192.168.1.20", "10.1.1.1"}},
	}

	for _, tt := range tests {
		got, err := CandidatesFrom(list, tt.prefix)
		if err != nil {
			t.Fatalf("CandidatesFrom(%q) failed: %v", tt.prefix, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("CandidatesFrom(%q) mismatch (-want +got):\n%s", tt.prefix, diff)
		}
	}
}

func TestCandidatesFromError(t *testing.T) {
	list := func() ([]Interface, error) { return nil, errors.New("boom") }
	if _, err := CandidatesFrom(list, "en"); err == nil {
		t.Error("expected lister error to propagate")
	}
}

func TestWatcherReportsChange(t *testing.T) {
	var mu sync.Mutex
	addr := "192.168.1.20/24"

	list := func() ([]Interface, error) {
		mu.Lock()
		defer mu.Unlock()
		return []Interface{{Name: "en0", Up: true, Addrs: []net.Addr{ipNet(addr)}}}, nil
	}

	changes := make(chan string, 4)
	w := &Watcher{
		Prefix:   "en",
		Interval: 5 * time.Millisecond,
		List:     list,
		OnChange: func(a string) { changes <- a },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, "192.168.1.20")

	select {
	case a := <-changes:
		t.Fatalf("unexpected change to %q with stable address", a)
	case <-time.After(30 * time.Millisecond):
	}

	mu.Lock()
	addr = "192.168.1.99/24"
	mu.Unlock()

	select {
	case a := <-changes:
		if a != "192.168.1.99" {
			t.Errorf("OnChange(%q) (expected 192.168.1.99)", a)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not report address change")
	}
}
