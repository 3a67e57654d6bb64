package kroxy

// CorrelationEntry is recorded for every upstream request with a response,
// per §3/§4.2. Entries with HasResponse=false (e.g. Produce acks=0) are
// never inserted.
type CorrelationEntry struct {
	DownstreamCorrelationID int32
	APIKey                  int16
	APIVersion              int16
	DecodeResponse          bool

	// InternalPromise is set when the request originated from a filter's
	// FilterContext.SendRequest rather than the client; its response is
	// delivered here instead of to the client (§4.1 response encoder,
	// §4.3 send_request).
	InternalPromise *responsePromise
}

// responsePromise is the promise/future returned by SendRequest. Exactly
// one of fulfill or fail is called; either one closes done.
type responsePromise struct {
	done chan struct{}
	resp kmsgResponseResult
}

type kmsgResponseResult struct {
	body interface{}
	err  error
}

func newResponsePromise() *responsePromise {
	return &responsePromise{done: make(chan struct{})}
}

func (p *responsePromise) fulfill(body interface{}) {
	p.resp = kmsgResponseResult{body: body}
	close(p.done)
}

func (p *responsePromise) fail(err error) {
	p.resp = kmsgResponseResult{err: err}
	close(p.done)
}

// CorrelationManager is owned by exactly one broker-facing (backend)
// connection and is only ever touched by that connection's worker — per
// §5, no lock is needed for per-connection state, so this type is
// deliberately not safe for concurrent use from multiple goroutines. It is
// a dense map keyed by the monotonic upstream correlation id per §9's
// design note ("a small dense map keyed by a u32 counter is sufficient"),
// with an explicit delete-from-middle case for out-of-order broker replies
// (in-flight count is normally small and bounded by pipelining depth).
type CorrelationManager struct {
	next    int32
	entries map[int32]CorrelationEntry
}

// NewCorrelationManager returns an empty manager. Ids start at 1 so that 0
// can be reserved as a sentinel by callers if needed.
func NewCorrelationManager() *CorrelationManager {
	return &CorrelationManager{next: 1, entries: make(map[int32]CorrelationEntry, 16)}
}

// Assign allocates the next monotonic upstream correlation id and, if
// hasResponse is true, inserts an entry for it. Returns the allocated id
// regardless (callers still need it to write the frame).
func (m *CorrelationManager) Assign(downstreamCorrelationID int32, apiKey, apiVersion int16, decodeResponse, hasResponse bool, promise *responsePromise) int32 {
	id := m.next
	m.next++
	if hasResponse {
		m.entries[id] = CorrelationEntry{
			DownstreamCorrelationID: downstreamCorrelationID,
			APIKey:                  apiKey,
			APIVersion:              apiVersion,
			DecodeResponse:          decodeResponse,
			InternalPromise:         promise,
		}
	}
	return id
}

// Consume looks up and removes the entry for an upstream correlation id.
// Returns ErrUnknownCorrelation if absent, matching §4.1's response decoder
// rule and §4.2's consume operation.
func (m *CorrelationManager) Consume(upstreamID int32) (CorrelationEntry, error) {
	e, ok := m.entries[upstreamID]
	if !ok {
		return CorrelationEntry{}, ErrUnknownCorrelation
	}
	delete(m.entries, upstreamID)
	return e, nil
}

// Len reports the number of in-flight entries, for tests asserting §8's
// "correlation manager remains empty" properties.
func (m *CorrelationManager) Len() int { return len(m.entries) }

// CancelAll completes every outstanding internal promise exceptionally and
// clears the table. Called on upstream close (§4.2, §4.5, §7
// UpstreamClosed).
func (m *CorrelationManager) CancelAll(reason error) {
	for id, e := range m.entries {
		if e.InternalPromise != nil {
			e.InternalPromise.fail(reason)
		}
		delete(m.entries, id)
	}
}
