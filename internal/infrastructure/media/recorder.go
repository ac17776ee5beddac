package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"go.uber.org/zap"
)

const (
	recordMTU        = 1200
	opusSampleRate   = 48000
	opusChannelCount = 2
)

var ErrRecordingActive = errors.New("a recording is already active")

// RTPReader yields RTP packets. release returns the packets' buffers and
// must be called once they are written.
type RTPReader interface {
	Read() (pkts []*rtp.Packet, release func(), err error)
	Close() error
}

// RTPSource is a local track that can produce its own RTP stream.
type RTPSource interface {
	domain.MediaTrack
	NewRTPReader(mtu int) (RTPReader, error)
}

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// sink serialises writes against close.
type sink struct {
	mu     sync.Mutex
	writer rtpWriter
	closed bool
	path   string
}

func (s *sink) write(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.writer.WriteRTP(p)
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

type recording struct {
	id        string
	dir       string
	startedAt time.Time
	readers   []RTPReader
	sinks     []*sink
	wg        sync.WaitGroup
}

// FileRecorder writes the local stream to disk: VP8 video as IVF and Opus
// audio as Ogg, one file per track under <dir>/<recording id>/.
type FileRecorder struct {
	dir    string
	logger *zap.SugaredLogger
	now    func() time.Time

	mu     sync.Mutex
	active *recording
}

var _ ports.Recorder = (*FileRecorder)(nil)

func NewFileRecorder(dir string, logger *zap.SugaredLogger) *FileRecorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileRecorder{dir: dir, logger: logger, now: time.Now}
}

func (r *FileRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *FileRecorder) Start(ctx context.Context, id string, stream domain.MediaStream) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrRecordingActive
	}

	var sources []RTPSource
	if stream != nil {
		for _, t := range stream.Tracks() {
			if src, ok := t.(RTPSource); ok {
				sources = append(sources, src)
			}
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: no RTP-capable tracks", domain.ErrRecordingUnsupported)
	}

	rec := &recording{id: id, dir: filepath.Join(r.dir, id), startedAt: r.now()}
	if err := os.MkdirAll(rec.dir, 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	for i, src := range sources {
		s, err := newSink(rec.dir, i, src.Kind())
		if err != nil {
			r.abort(rec)
			return err
		}
		reader, err := src.NewRTPReader(recordMTU)
		if err != nil {
			s.close()
			r.abort(rec)
			return fmt.Errorf("open %s rtp reader: %w", src.Kind(), err)
		}
		rec.sinks = append(rec.sinks, s)
		rec.readers = append(rec.readers, reader)
		rec.wg.Add(1)
		go r.pump(rec, reader, s)
	}

	r.active = rec
	r.logger.Infow("recording started", "recording_id", id, "tracks", len(sources), "dir", rec.dir)
	return nil
}

// Stop ends the active recording and describes what was written.
func (r *FileRecorder) Stop(ctx context.Context) (*domain.RecordingArtifact, error) {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()
	if rec == nil {
		return nil, domain.ErrNotRecording
	}

	for _, reader := range rec.readers {
		reader.Close()
	}
	drained := make(chan struct{})
	go func() {
		rec.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		r.logger.Warnw("recording readers still draining", "recording_id", rec.id)
	}

	artifact := &domain.RecordingArtifact{
		ID:        rec.id,
		Dir:       rec.dir,
		StartedAt: rec.startedAt,
		StoppedAt: r.now(),
	}
	var errs []error
	for _, s := range rec.sinks {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", filepath.Base(s.path), err))
		}
		info, err := os.Stat(s.path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		artifact.Files = append(artifact.Files, s.path)
		artifact.Bytes += info.Size()
	}

	r.logger.Infow("recording stopped",
		"recording_id", rec.id,
		"files", len(artifact.Files),
		"bytes", artifact.Bytes,
		"duration", artifact.StoppedAt.Sub(artifact.StartedAt),
	)
	return artifact, errors.Join(errs...)
}

func (r *FileRecorder) pump(rec *recording, reader RTPReader, s *sink) {
	defer rec.wg.Done()
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debugw("recording reader stopped", "recording_id", rec.id, "error", err)
			}
			return
		}
		for _, p := range pkts {
			if err := s.write(p); err != nil {
				r.logger.Debugw("dropping recorded packet", "recording_id", rec.id, "file", s.path, "error", err)
			}
		}
		if release != nil {
			release()
		}
	}
}

func (r *FileRecorder) abort(rec *recording) {
	for _, reader := range rec.readers {
		reader.Close()
	}
	rec.wg.Wait()
	for _, s := range rec.sinks {
		s.close()
	}
}

func newSink(dir string, index int, kind domain.TrackKind) (*sink, error) {
	if kind == domain.TrackVideo {
		path := filepath.Join(dir, fmt.Sprintf("video-%d.ivf", index))
		w, err := ivfwriter.New(path)
		if err != nil {
			return nil, fmt.Errorf("create ivf writer: %w", err)
		}
		return &sink{writer: w, path: path}, nil
	}
	path := filepath.Join(dir, fmt.Sprintf("audio-%d.ogg", index))
	w, err := oggwriter.New(path, opusSampleRate, opusChannelCount)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	return &sink{writer: w, path: path}, nil
}
