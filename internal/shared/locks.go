package shared

import "fmt"

// LowStockCacheVersionKey is the redis key holding the low stock cache generation.
const LowStockCacheVersionKey = "inventory:low_stock:version"

// LowStockCacheKey builds the redis key for a cached low stock listing.
// branchID zero means all branches.
func LowStockCacheKey(version, branchID int64) string {
	if branchID == 0 {
		return fmt.Sprintf("inventory:low_stock:v%d:all", version)
	}
	return fmt.Sprintf("inventory:low_stock:v%d:branch:%d", version, branchID)
}
