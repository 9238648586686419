package usage

import (
	"sync"
	"time"
)

// pruneInterval is how often rows past the retention window are deleted.
const pruneInterval = time.Hour

// pruner deletes expired rows once at start and then every pruneInterval.
type pruner struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startPruner runs prune with the current cutoff until Stop. A non-positive
// retention returns a pruner that never runs.
func startPruner(retentionDays int, prune func(cutoff time.Time)) *pruner {
	p := &pruner{stop: make(chan struct{}), done: make(chan struct{})}
	if retentionDays <= 0 {
		close(p.done)
		return p
	}

	cutoff := func() time.Time { return time.Now().UTC().AddDate(0, 0, -retentionDays) }
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		prune(cutoff())
		for {
			select {
			case <-ticker.C:
				prune(cutoff())
			case <-p.stop:
				return
			}
		}
	}()
	return p
}

// Stop ends the loop and waits for an in-flight prune to finish.
func (p *pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}
