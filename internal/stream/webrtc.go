package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/infinitechno/internal/audio"
)

const (
	opusBitrate   = 128000
	opusMaxPacket = 4000
	opusClockRate = 48000 // RTP clock for Opus at any input rate
)

// OpusSupported reports whether Opus can encode at sampleRate.
func OpusSupported(sampleRate int) bool {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// frameEncoder turns one fixed-size PCM frame into a packet.
// *opus.Encoder satisfies it.
type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// negotiationError carries the HTTP status for a failed SDP exchange.
type negotiationError struct {
	status int
	err    error
}

func (e *negotiationError) Error() string { return e.err.Error() }

func failNegotiation(status int, err error, msg string) error {
	return &negotiationError{status: status, err: errors.Wrap(err, msg)}
}

// WebRTCHandler answers SDP offers and streams the live mix to each peer as
// Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	sampleRate  int

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler returns a handler for PCM at sampleRate, which must be a
// rate Opus encodes natively.
func NewWebRTCHandler(b *Broadcaster, sampleRate int) (*WebRTCHandler, error) {
	if !OpusSupported(sampleRate) {
		return nil, errors.Errorf("opus cannot encode at %d Hz", sampleRate)
	}
	return &WebRTCHandler{
		broadcaster: b,
		sampleRate:  sampleRate,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}, nil
}

// frameSamples is the interleaved sample count of one Opus frame.
func (h *WebRTCHandler) frameSamples() int {
	return h.sampleRate * int(audio.FrameDuration/time.Millisecond) / 1000 * audio.Channels
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	answer, err := h.connect(offer)
	if err != nil {
		status := http.StatusInternalServerError
		var ne *negotiationError
		if errors.As(err, &ne) {
			status = ne.status
		}
		log.Printf("WebRTC: %v", err)
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

// connect negotiates a peer with one Opus track fed from the broadcaster and
// returns the local description once ICE gathering is complete.
func (h *WebRTCHandler) connect(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, failNegotiation(http.StatusInternalServerError, err, "create peer connection")
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusClockRate,
			Channels:  audio.Channels,
		},
		"audio",
		"infinitechno",
	)
	if err != nil {
		pc.Close()
		return nil, failNegotiation(http.StatusInternalServerError, err, "create audio track")
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, failNegotiation(http.StatusInternalServerError, err, "add track")
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, failNegotiation(http.StatusBadRequest, err, "set remote description")
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, failNegotiation(http.StatusInternalServerError, err, "create answer")
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, failNegotiation(http.StatusInternalServerError, err, "set local description")
	}
	<-gathered

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()
	log.Printf("WebRTC peer connected (total: %d)", h.PeerCount())

	listener := h.broadcaster.Subscribe()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.broadcaster.Unsubscribe(listener)
			h.dropPeer(pc)
		}
	})
	go h.stream(pc, track, listener)

	return pc.LocalDescription(), nil
}

// stream encodes the peer's listener until the peer goes away or the engine
// stops, then closes the connection.
func (h *WebRTCHandler) stream(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample, l *Listener) {
	defer h.dropPeer(pc)
	defer h.broadcaster.Unsubscribe(l)

	enc, err := opus.NewEncoder(h.sampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder: %v", err)
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		log.Printf("WebRTC: opus bitrate: %v", err)
	}
	if err := pump(l, NewReframer(h.frameSamples()), enc, track.WriteSample); err != nil {
		log.Printf("WebRTC: stream ended: %v", err)
	}
}

// pump regroups the listener's blocks into Opus frames, encodes them and
// hands each packet to write. It returns nil when the listener is done and
// the first write error otherwise. Frames that fail to encode are skipped.
func pump(l *Listener, rf *Reframer, enc frameEncoder, write func(media.Sample) error) error {
	packet := make([]byte, opusMaxPacket)
	for {
		select {
		case <-l.Done():
			return nil
		case block := <-l.C:
			for _, frame := range rf.Push(block) {
				n, err := enc.Encode(frame, packet)
				if err != nil {
					log.Printf("WebRTC: opus encode: %v", err)
					continue
				}
				sample := media.Sample{Data: append([]byte(nil), packet[:n]...), Duration: audio.FrameDuration}
				if err := write(sample); err != nil {
					return errors.Wrap(err, "write sample")
				}
			}
		}
	}
}

// dropPeer forgets pc and closes it. Repeated calls are harmless.
func (h *WebRTCHandler) dropPeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	_, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := pc.Close(); err != nil {
		log.Printf("WebRTC: close peer: %v", err)
	}
	log.Printf("WebRTC peer disconnected (remaining: %d)", h.PeerCount())
}
