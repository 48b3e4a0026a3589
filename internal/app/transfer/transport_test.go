package transfer

import (
	"sync"
)

type fakeTransport struct {
	mu             sync.Mutex
	buffered       uint64
	threshold      uint64
	onLow          func()
	sent           [][]byte
	bufferedAtSend []uint64
	errs           []error
	attempts       int
	failAlways     error
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failAlways != nil {
		return f.failAlways
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.bufferedAtSend = append(f.bufferedAtSend, f.buffered)
	f.sent = append(f.sent, append([]byte(nil), b...))
	f.buffered += uint64(len(b))
	return nil
}

func (f *fakeTransport) BufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeTransport) SetBufferedAmountLowThreshold(v uint64) {
	f.mu.Lock()
	f.threshold = v
	f.mu.Unlock()
}

func (f *fakeTransport) OnBufferedAmountLow(fn func()) {
	f.mu.Lock()
	f.onLow = fn
	f.mu.Unlock()
}

// drain removes n buffered bytes and fires the low event when the buffer
// crosses the threshold downwards.
func (f *fakeTransport) drain(n uint64) {
	f.mu.Lock()
	was := f.buffered
	f.buffered -= min(n, f.buffered)
	crossed := was > f.threshold && f.buffered <= f.threshold
	cb := f.onLow
	f.mu.Unlock()
	if crossed && cb != nil {
		cb()
	}
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingObserver struct {
	mu        sync.Mutex
	started   map[string]int64
	completed map[string][]byte
	failed    map[string]error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started:   make(map[string]int64),
		completed: make(map[string][]byte),
		failed:    make(map[string]error),
	}
}

func (o *recordingObserver) TransferStarted(name string, size int64) {
	o.mu.Lock()
	o.started[name] = size
	o.mu.Unlock()
}

func (o *recordingObserver) TransferCompleted(name string, data []byte) {
	o.mu.Lock()
	o.completed[name] = data
	o.mu.Unlock()
}

func (o *recordingObserver) TransferFailed(name string, err error) {
	o.mu.Lock()
	o.failed[name] = err
	o.mu.Unlock()
}
