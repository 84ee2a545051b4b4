package ledger

import (
	"sync"
)

const lockStripes = 64

// keyLock serializes read-modify-write sequences per user id without one
// coarse global lock: independent users proceed concurrently, conflicting
// mutations on the same id are serialized. Pair acquisition is ordered by
// stripe index so promotion (referrer + referred) cannot deadlock.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyLock) stripe(id int64) int {
	h := uint64(id) * 0x9e3779b97f4a7c15
	return int(h % lockStripes)
}

func (k *keyLock) Lock(id int64) {
	k.stripes[k.stripe(id)].Lock()
}

func (k *keyLock) Unlock(id int64) {
	k.stripes[k.stripe(id)].Unlock()
}

func (k *keyLock) LockPair(a, b int64) {
	sa, sb := k.stripe(a), k.stripe(b)
	switch {
	case sa == sb:
		k.stripes[sa].Lock()
	case sa < sb:
		k.stripes[sa].Lock()
		k.stripes[sb].Lock()
	default:
		k.stripes[sb].Lock()
		k.stripes[sa].Lock()
	}
}

func (k *keyLock) UnlockPair(a, b int64) {
	sa, sb := k.stripe(a), k.stripe(b)
	if sa == sb {
		k.stripes[sa].Unlock()
		return
	}
	k.stripes[sa].Unlock()
	k.stripes[sb].Unlock()
}
