package ikesa

import (
	"net"
	"sync"

	"github.com/behrlich/go-ikesa/internal/interfaces"
)

// MockIdentity is a simple string-keyed Identity, with the empty string
// standing for the wildcard "any" identity.
type MockIdentity struct {
	Value string
}

func (id MockIdentity) String() string { return id.Value }
func (id MockIdentity) IsAny() bool    { return id.Value == "" }
func (id MockIdentity) Matches(other interfaces.Identity) bool {
	if id.IsAny() {
		return true
	}
	o, ok := other.(MockIdentity)
	if !ok {
		return id.Value == other.String()
	}
	return id.Value == o.Value
}

// MockSAHandle is a test-double SAHandle with call tracking, guarded by
// its own mutex so it can be safely shared across checked-out goroutines
// in concurrency tests.
type MockSAHandle struct {
	mu sync.Mutex

	id         interfaces.SAID
	state      interfaces.SAState
	uniqueID   uint32
	name       string
	myID       interfaces.Identity
	otherID    interfaces.Identity
	myHost     net.IP
	otherHost  net.IP
	configName string
	children   []interfaces.ChildSA

	DeleteCalls  int
	DestroyCalls int
	DeleteErr    error
}

// NewMockSAHandle returns a handle seeded with id and "any" identities.
func NewMockSAHandle(id interfaces.SAID, uniqueID uint32) *MockSAHandle {
	return &MockSAHandle{
		id:       id,
		uniqueID: uniqueID,
		myID:     MockIdentity{},
		otherID:  MockIdentity{},
	}
}

func (h *MockSAHandle) ID() interfaces.SAID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func (h *MockSAHandle) SetID(id interfaces.SAID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.id = id
}

func (h *MockSAHandle) State() interfaces.SAState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *MockSAHandle) SetState(s interfaces.SAState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

func (h *MockSAHandle) UniqueID() uint32 { return h.uniqueID }

func (h *MockSAHandle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

func (h *MockSAHandle) SetName(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.name = name
}

func (h *MockSAHandle) MyID() interfaces.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.myID
}

func (h *MockSAHandle) OtherID() interfaces.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.otherID
}

func (h *MockSAHandle) SetMyID(id interfaces.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.myID = id
}

func (h *MockSAHandle) SetOtherID(id interfaces.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.otherID = id
}

func (h *MockSAHandle) MyHost() net.IP {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.myHost
}

func (h *MockSAHandle) SetMyHost(ip net.IP) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.myHost = ip
}

func (h *MockSAHandle) OtherHost() net.IP {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.otherHost
}

func (h *MockSAHandle) SetOtherHost(ip net.IP) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.otherHost = ip
}

func (h *MockSAHandle) ConfigName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configName
}

func (h *MockSAHandle) SetConfigName(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configName = name
}

func (h *MockSAHandle) Children() []interfaces.ChildSA {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.children
}

func (h *MockSAHandle) SetChildren(children []interfaces.ChildSA) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.children = children
}

func (h *MockSAHandle) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DestroyCalls++
}

func (h *MockSAHandle) Delete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DeleteCalls++
	return h.DeleteErr
}

// MockFactory mints sequentially numbered MockSAHandles.
type MockFactory struct {
	mu   sync.Mutex
	next uint32
}

func (f *MockFactory) NewSA(id interfaces.SAID) interfaces.SAHandle {
	f.mu.Lock()
	f.next++
	uid := f.next
	f.mu.Unlock()
	return NewMockSAHandle(id, uid)
}

// MockRNG is a deterministic, non-cryptographic RNG for tests that need
// reproducible SPIs. A zero Counter produces 1, 2, 3, ...; callers that
// need a specific sequence can seed it directly.
type MockRNG struct {
	mu      sync.Mutex
	Counter uint64
}

func (r *MockRNG) Fill(buf []byte) error {
	r.mu.Lock()
	r.Counter++
	v := r.Counter
	r.mu.Unlock()
	for i := range buf {
		buf[i] = 0
	}
	for i := len(buf) - 1; i >= 0 && v > 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return nil
}

// MockHasher returns a verbatim copy of data as its digest, so tests can construct colliding or distinct digests just by varying
// input bytes.
type MockHasher struct{}

func (MockHasher) Digest(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// MockBus records the sequence of SetCurrentSA calls it receives.
type MockBus struct {
	mu    sync.Mutex
	Calls []interfaces.SAHandle
}

func (b *MockBus) SetCurrentSA(sa interfaces.SAHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, sa)
}

func (b *MockBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// MockPeerConfig is a named PeerConfig test double.
type MockPeerConfig struct {
	Named string
}

func (c MockPeerConfig) Name() string { return c.Named }

// MockMessage is a fully-populated Message test double.
type MockMessage struct {
	Said     interfaces.SAID
	Request  bool
	MsgID    uint32
	Exchange interfaces.ExchangeType
	Payload  []byte
}

func (m MockMessage) SAID() interfaces.SAID               { return m.Said }
func (m MockMessage) IsRequest() bool                     { return m.Request }
func (m MockMessage) MessageID() uint32                   { return m.MsgID }
func (m MockMessage) ExchangeType() interfaces.ExchangeType { return m.Exchange }
func (m MockMessage) Bytes() []byte                       { return m.Payload }
