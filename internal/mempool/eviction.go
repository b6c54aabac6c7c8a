package mempool

// Evict removes the least-includable transactions until the pool is at or
// below maxSize. Returns the number evicted.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for len(p.txs) > p.maxSize {
		victim, _, ok := p.worstEntryLocked()
		if !ok {
			break
		}
		p.removeLocked(victim)
		evicted++
	}
	return evicted
}
