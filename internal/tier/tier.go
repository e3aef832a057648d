// Package tier answers capacity questions on behalf of the account backend.
package tier

import "strings"

// Limits is consulted before every capacity-affecting operation. Values may
// shrink at runtime; callers clamp rather than fail.
type Limits interface {
	CurrentMaxRecords() uint32
	CurrentMaxSyncRecords() uint32
	MaxFileSyncBytes() uint64
	MaxPinned() uint32
}

// Tier names accepted by config.
const (
	Free = "free"
	VIP  = "vip"
)

// Static is a fixed set of limits.
type Static struct {
	Name         string
	MaxRecords   uint32
	MaxSync      uint32
	MaxFileBytes uint64
	Pinned       uint32
}

var (
	FreeLimits = Static{Name: Free, MaxRecords: 200, MaxSync: 50, MaxFileBytes: 1 << 20, Pinned: 50}
	VIPLimits  = Static{Name: VIP, MaxRecords: 1000, MaxSync: 1000, MaxFileBytes: 20 << 20, Pinned: 1000}
)

// ForName returns the static limits for a tier name; unknown names get the free tier.
func ForName(name string) Static {
	if strings.EqualFold(strings.TrimSpace(name), VIP) {
		return VIPLimits
	}
	return FreeLimits
}

func (s Static) CurrentMaxRecords() uint32     { return s.MaxRecords }
func (s Static) CurrentMaxSyncRecords() uint32 { return s.MaxSync }
func (s Static) MaxFileSyncBytes() uint64      { return s.MaxFileBytes }
func (s Static) MaxPinned() uint32             { return s.Pinned }
