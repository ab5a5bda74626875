package worker

import "sync"

// lifecycle is the stop handshake shared by the long-running loops: Stop
// asks the loop to exit and waits until it has.
type lifecycle struct {
	once      sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (l *lifecycle) stopping() <-chan struct{} { return l.stopCh }

// exited must be deferred by the loop's Run.
func (l *lifecycle) exited() { close(l.stoppedCh) }

// Stop is idempotent. It blocks until Run returns, so it must only be called
// once Run has started.
func (l *lifecycle) Stop() {
	l.once.Do(func() { close(l.stopCh) })
	<-l.stoppedCh
}
