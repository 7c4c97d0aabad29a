package queue

import (
	"sync"
	"time"
)

// orphanState tracks bookkeeping for the periodic orphan-recovery scan,
// surfaced on PoolHealth.
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}
