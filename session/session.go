// Package session implements the stream-session registry: the data
// model for a live StreamSession, non-colliding port allocation, and
// the copy-on-write session list readers snapshot without locking.
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/gowolf/streamhost/catalog"
	"github.com/gowolf/streamhost/config"
	"github.com/gowolf/streamhost/eventbus"
)

// DisplayMode is a negotiated width/height/refresh triple.
type DisplayMode struct {
	Width, Height, RefreshRate int
}

// AudioMode is the negotiated audio layout.
type AudioMode struct {
	Channels        int
	Streams         int
	CoupledStreams  int
	SpeakerMap      []int
}

// Ports holds the three allocated UDP/TCP port numbers for a session.
type Ports struct {
	Video   int
	Control int
	Audio   int
}

// StreamSession is created on /launch and destroyed on termination.
// Sequence counters are owned exclusively by their respective
// pipeline goroutine; callers elsewhere should treat them as
// read-mostly via the atomic helpers below.
type StreamSession struct {
	ID       uint32
	ClientIP net.IP
	App      catalog.App

	AESKey [16]byte
	AESIV  [16]byte

	Ports   Ports
	Display DisplayMode
	Audio   AudioMode

	videoSeq   uint32 // wraps mod 2^16, accessed via NextVideoSeq
	audioSeq   uint32 // wraps mod 2^16, accessed via NextAudioSeq
	controlSeq uint32 // 32-bit GCM sequence, accessed via NextControlSeq
}

// NextVideoSeq returns the next monotonically increasing (mod 2^16)
// video RTP sequence number.
func (s *StreamSession) NextVideoSeq() uint16 {
	return uint16(atomic.AddUint32(&s.videoSeq, 1) - 1)
}

// NextAudioSeq returns the next monotonically increasing (mod 2^16)
// audio RTP sequence number.
func (s *StreamSession) NextAudioSeq() uint16 {
	return uint16(atomic.AddUint32(&s.audioSeq, 1) - 1)
}

// NextControlSeq returns the next 32-bit control-channel GCM sequence.
// Detecting the 2^32 wraparound is control.Peer's
// job, since it alone knows whether this is the first call or a true
// wrap.
func (s *StreamSession) NextControlSeq() uint32 {
	return atomic.AddUint32(&s.controlSeq, 1) - 1
}

// Registry holds the current set of live StreamSessions. It uses a
// copy-on-write list guarded by a single mutex for writers; readers
// take an atomic snapshot.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]*StreamSession]

	nextID      uint32
	portOffsets config.Ports
	bus         *eventbus.Bus
}

// NewRegistry builds an empty registry using the given base port
// layout for allocation and publishing lifecycle events on bus.
func NewRegistry(ports config.Ports, bus *eventbus.Bus) *Registry {
	r := &Registry{portOffsets: ports, bus: bus}
	empty := []*StreamSession{}
	r.snapshot.Store(&empty)
	return r
}

func (r *Registry) all() []*StreamSession {
	return *r.snapshot.Load()
}

// portsInUse returns the set of ports already allocated across every
// live session, checked together so video/control/audio never collide
// with any other session's ports of any kind.
func portsInUse(sessions []*StreamSession) map[int]bool {
	used := make(map[int]bool, len(sessions)*3)
	for _, s := range sessions {
		used[s.Ports.Video] = true
		used[s.Ports.Control] = true
		used[s.Ports.Audio] = true
	}
	return used
}

// allocatePorts finds the first candidate base offset (starting at the
// configured defaults, stepping by 1) where video/control/audio are
// all simultaneously free.
func allocatePorts(base config.Ports, existing []*StreamSession) Ports {
	used := portsInUse(existing)
	videoBase, controlBase, audioBase := base.Video, base.Control, base.Audio
	for step := 0; ; step++ {
		v, c, a := videoBase+step, controlBase+step, audioBase+step
		if !used[v] && !used[c] && !used[a] {
			return Ports{Video: v, Control: c, Audio: a}
		}
	}
}

// Create allocates a fresh session_id and non-colliding ports for a
// new StreamSession, adds it to the registry and returns it.
func (r *Registry) Create(app catalog.App, clientIP net.IP, aesKey, aesIV [16]byte) *StreamSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := &StreamSession{
		ID:       r.nextID,
		ClientIP: clientIP,
		App:      app,
		AESKey:   aesKey,
		AESIV:    aesIV,
		Ports:    allocatePorts(r.portOffsets, r.all()),
		// Stereo until ANNOUNCE negotiates a surround layout.
		Audio: AudioMode{Channels: 2, Streams: 1, CoupledStreams: 1, SpeakerMap: []int{0, 1}},
	}

	next := append(append([]*StreamSession(nil), r.all()...), s)
	r.snapshot.Store(&next)
	return s
}

// LookupByID returns the session with the given id, if any.
func (r *Registry) LookupByID(id uint32) (*StreamSession, bool) {
	for _, s := range r.all() {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// LookupByIP returns the single session for clientIP. On multiple
// matches it returns none (ambiguous).
func (r *Registry) LookupByIP(clientIP net.IP) (*StreamSession, bool) {
	var found *StreamSession
	count := 0
	for _, s := range r.all() {
		if s.ClientIP.Equal(clientIP) {
			found = s
			count++
		}
	}
	if count != 1 {
		return nil, false
	}
	return found, true
}

// Remove filters id out of the registry and publishes a StreamStop
// event.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	existing := r.all()
	next := make([]*StreamSession, 0, len(existing))
	removed := false
	for _, s := range existing {
		if s.ID == id {
			removed = true
			continue
		}
		next = append(next, s)
	}
	r.snapshot.Store(&next)
	r.mu.Unlock()

	if removed && r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: eventbus.StreamStop, SessionID: id})
	}
}

// All returns a snapshot of the current sessions.
func (r *Registry) All() []*StreamSession {
	return append([]*StreamSession(nil), r.all()...)
}
