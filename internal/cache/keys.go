package cache

import (
	"fmt"
	"time"
)

const (
	LatestSnapshotKeyPrefix = "analytics:snapshot:latest:%s"
	SnapshotLockKeyPrefix   = "analytics:snapshot:lock:%s"
	TenantKeyPrefix         = "tenant:resolve:%s"
)

const (
	LatestSnapshotTTL = 10 * time.Minute
	SnapshotLockTTL   = 2 * time.Minute
	TenantTTL         = 10 * time.Minute
)

func LatestSnapshotKey(kind string) string {
	return fmt.Sprintf(LatestSnapshotKeyPrefix, kind)
}

func SnapshotLockKey(kind string) string {
	return fmt.Sprintf(SnapshotLockKeyPrefix, kind)
}

func TenantKey(ref string) string {
	return fmt.Sprintf(TenantKeyPrefix, ref)
}
