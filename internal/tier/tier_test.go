package tier

import "testing"

func TestForName(t *testing.T) {
	tests := []struct {
		name string
		want Static
	}{
		{"free", FreeLimits},
		{"vip", VIPLimits},
		{" VIP ", VIPLimits},
		{"", FreeLimits},
		{"gold", FreeLimits},
	}
	for _, tt := range tests {
		if got := ForName(tt.name); got != tt.want {
			t.Errorf("ForName(%q) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestStaticImplementsLimits(t *testing.T) {
	var l Limits = VIPLimits
	if l.CurrentMaxRecords() != 1000 || l.CurrentMaxSyncRecords() != 1000 {
		t.Errorf("vip record limits = %d/%d", l.CurrentMaxRecords(), l.CurrentMaxSyncRecords())
	}
	if l.MaxFileSyncBytes() != 20<<20 || l.MaxPinned() != 1000 {
		t.Errorf("vip byte/pin limits = %d/%d", l.MaxFileSyncBytes(), l.MaxPinned())
	}

	l = FreeLimits
	if l.CurrentMaxRecords() != 200 || l.CurrentMaxSyncRecords() != 50 || l.MaxPinned() != 50 {
		t.Errorf("free limits = %+v", l)
	}
}
