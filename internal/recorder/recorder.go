// Package recorder captures mixed blocks and writes them to WAV files.
package recorder

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/audio"
	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
)

// Session is one recording in progress.
type Session struct {
	Path    string
	Start   time.Time
	blocks  []audio.Block
	samples int
}

// Blocks returns the number of blocks captured.
func (s *Session) Blocks() int {
	return len(s.blocks)
}

// Samples returns the number of stereo frames captured.
func (s *Session) Samples() int {
	return s.samples
}

// Status is the recorder state exposed in engine snapshots.
type Status struct {
	Recording bool    `json:"recording"`
	Path      string  `json:"path,omitempty"`
	Blocks    int     `json:"blocks"`
	Seconds   float64 `json:"seconds"`
	LastFile  string  `json:"last_file,omitempty"`
	LastError string  `json:"last_error,omitempty"`
}

// Recorder owns at most one active session. Start, Append and Stop are
// called from the engine goroutine; files are written in the background.
type Recorder struct {
	dir        string
	prefix     string
	sampleRate int
	now        func() time.Time

	session *Session
	wg      sync.WaitGroup

	mu       sync.Mutex
	reserved map[string]bool
	lastFile string
	lastErr  error
}

// New returns a recorder writing <prefix>_<YYYYMMDD-HHMMSS>.wav into dir.
func New(dir, prefix string, sampleRate int) *Recorder {
	return &Recorder{
		dir:        dir,
		prefix:     prefix,
		sampleRate: sampleRate,
		now:        time.Now,
		reserved:   map[string]bool{},
	}
}

// Active reports whether a session is open.
func (r *Recorder) Active() bool {
	return r.session != nil
}

// Start opens a session. Starting while already recording is a no-op.
func (r *Recorder) Start() *Session {
	if r.session != nil {
		return r.session
	}
	start := r.now()
	r.session = &Session{Path: r.nextPath(start), Start: start}
	log.Printf("Recording started: %s", r.session.Path)
	return r.session
}

// nextPath picks a timestamped name, adding -2, -3 ... on collision with an
// existing file or a session still being written. A path that cannot be
// stat'ed for any other reason is taken as is; write reports the failure.
func (r *Recorder) nextPath(t time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := fmt.Sprintf("%s_%s", r.prefix, t.Format("20060102-150405"))
	path := filepath.Join(r.dir, base+".wav")
	for i := 2; r.taken(path); i++ {
		path = filepath.Join(r.dir, fmt.Sprintf("%s-%d.wav", base, i))
	}
	r.reserved[path] = true
	return path
}

// taken reports whether path exists or is reserved. Call with mu held.
func (r *Recorder) taken(path string) bool {
	if r.reserved[path] {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// Append copies b into the active session.
func (r *Recorder) Append(b audio.Block) {
	if r.session == nil {
		return
	}
	r.session.blocks = append(r.session.blocks, b.Clone())
	r.session.samples += len(b)
}

// Stop detaches the active session and writes it on a background goroutine.
// It returns the target path. Write failures surface through Status and the
// log as a RecordingError; the caller keeps streaming.
func (r *Recorder) Stop() (string, error) {
	s := r.session
	if s == nil {
		return "", apperrors.ErrNotRecording
	}
	r.session = nil
	if s.samples == 0 {
		r.release(s.Path)
		return "", &apperrors.RecordingError{Path: s.Path, Err: apperrors.ErrEmptyRecording}
	}

	log.Printf("Recording stopped: %s (%d blocks, %.1fs)", s.Path, len(s.blocks),
		float64(s.samples)/float64(r.sampleRate))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.write(s)
		r.mu.Lock()
		delete(r.reserved, s.Path)
		if err != nil {
			r.lastErr = &apperrors.RecordingError{Path: s.Path, Err: err}
			log.Printf("Recording failed: %v", r.lastErr)
		} else {
			r.lastFile = s.Path
			r.lastErr = nil
			log.Printf("Recording saved: %s", s.Path)
		}
		r.mu.Unlock()
	}()
	return s.Path, nil
}

// Wait blocks until every detached session has been written.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Status returns the recorder state. Call it from the engine goroutine.
func (r *Recorder) Status() Status {
	st := Status{}
	if s := r.session; s != nil {
		st.Recording = true
		st.Path = s.Path
		st.Blocks = len(s.blocks)
		st.Seconds = float64(s.samples) / float64(r.sampleRate)
	}
	r.mu.Lock()
	st.LastFile = r.lastFile
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()
	return st
}

func (r *Recorder) release(path string) {
	r.mu.Lock()
	delete(r.reserved, path)
	r.mu.Unlock()
}

func (r *Recorder) write(s *Session) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}
	f, err := os.Create(s.Path)
	if err != nil {
		return errors.Wrap(err, "create wav")
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(r.sampleRate),
		NumChannels: audio.Channels,
		Precision:   audio.BitDepth / 8,
	}
	if err := wav.Encode(f, &blockStreamer{blocks: s.blocks}, format); err != nil {
		f.Close()
		return errors.Wrap(err, "encode wav")
	}
	return errors.Wrap(f.Close(), "close wav")
}

// blockStreamer streams a list of blocks as one beep.Streamer.
type blockStreamer struct {
	blocks []audio.Block
	block  int
	pos    int
}

func (s *blockStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) && s.block < len(s.blocks) {
		c := copy(samples[n:], s.blocks[s.block][s.pos:])
		n += c
		s.pos += c
		if s.pos >= len(s.blocks[s.block]) {
			s.block++
			s.pos = 0
		}
	}
	return n, n > 0
}

func (s *blockStreamer) Err() error {
	return nil
}
