package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	micSampleRateHz      = 16000
	playbackSampleRateHz = 24000

	micChunkBytes = 3200 // 100ms of 16kHz mono s16le
	micMIMEType   = "audio/pcm;rate=16000"
)

// audioTask captures microphone audio with ffmpeg, runs voice activity
// detection over each chunk and streams it to the model. Frames are
// best-effort: dropping audio under backpressure beats stalling the
// session.
func (s *Session) audioTask(ctx context.Context) error {
	mic, err := newMicCapture(s.opts.Audio.InputDevice)
	if err != nil {
		return err
	}
	defer mic.Close()

	go func() {
		<-ctx.Done()
		mic.Close()
	}()

	vad := &voiceDetector{
		threshold: s.opts.Audio.VADThreshold,
		silence:   s.opts.Audio.Silence,
		now:       s.now,
	}

	buf := make([]byte, micChunkBytes)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, readErr := io.ReadFull(mic, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			speaking, changed := vad.observe(chunk)
			if changed {
				s.setUserSpeaking(speaking)
			}
			s.enqueueMedia(chunk, micMIMEType, "audio")
		}
		if readErr != nil {
			if ctx.Err() != nil || errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("mic read: %w", readErr)
		}
	}
}

// setUserSpeaking flips the speaking flag and treats speech onset as user
// activity: it stamps the clock and cuts assistant playback (barge-in).
func (s *Session) setUserSpeaking(speaking bool) {
	s.mu.Lock()
	s.userSpeaking = speaking
	player := s.player
	s.mu.Unlock()

	if speaking {
		s.opts.Clock.MarkUser("")
		if player != nil {
			player.Reset()
		}
	}
}

// playAudio writes assistant PCM to the local player, starting it lazily.
func (s *Session) playAudio(data []byte) {
	if s.opts.Audio.PlaybackDisabled {
		return
	}

	s.mu.Lock()
	player := s.player
	s.mu.Unlock()

	if player == nil {
		p, err := newPCMPlayer()
		if err != nil {
			log.Printf("[session] playback unavailable: %v", err)
			s.opts.Audio.PlaybackDisabled = true
			return
		}
		s.mu.Lock()
		s.player = p
		s.mu.Unlock()
		player = p
	}

	if err := player.Write(data); err != nil {
		log.Printf("[session] playback write: %v", err)
	}
}

// voiceDetector is a simple RMS gate with a hangover window: speech starts
// on the first loud chunk and ends after a continuous quiet stretch.
type voiceDetector struct {
	threshold int
	silence   time.Duration
	now       func() time.Time

	speaking  bool
	lastVoice time.Time
}

// observe classifies one s16le chunk and reports whether the speaking
// state changed.
func (v *voiceDetector) observe(chunk []byte) (speaking, changed bool) {
	loud := rmsAmplitude(chunk) >= float64(v.threshold)
	now := v.now()

	if loud {
		v.lastVoice = now
		if !v.speaking {
			v.speaking = true
			return true, true
		}
		return true, false
	}

	if v.speaking && now.Sub(v.lastVoice) >= v.silence {
		v.speaking = false
		return false, true
	}
	return v.speaking, false
}

// rmsAmplitude computes the root-mean-square amplitude of little-endian
// 16-bit PCM.
func rmsAmplitude(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples*2; i += 2 {
		v := int16(binary.LittleEndian.Uint16(chunk[i:]))
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(samples))
}

// micCapture reads raw PCM from an ffmpeg subprocess.
type micCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	closeOnce sync.Once
}

func newMicCapture(device string) (*micCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture")
	}
	args, err := micFFmpegArgs(runtime.GOOS, device)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &micCapture{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos, device string) ([]string, error) {
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", device,
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		if device == "" {
			device = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", device,
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s", goos)
	}
}

func (m *micCapture) Read(p []byte) (int, error) {
	return m.stdout.Read(p)
}

func (m *micCapture) Close() error {
	m.closeOnce.Do(func() {
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
			_ = m.cmd.Wait()
		}
	})
	return nil
}

// pcmPlayer plays 24kHz mono s16le through an ffplay subprocess. Reset
// kills and restarts the process, discarding anything buffered; that is
// how barge-in cuts the assistant off mid-sentence.
type pcmPlayer struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newPCMPlayer() (*pcmPlayer, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for audio playback")
	}
	p := &pcmPlayer{}
	if err := p.startLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pcmPlayer) startLocked() error {
	p.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", playbackSampleRateHz),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	p.cmd.Stdout = io.Discard
	p.cmd.Stderr = io.Discard
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	p.stdin = stdin
	return nil
}

func (p *pcmPlayer) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return errors.New("player is closed")
	}
	_, err := p.stdin.Write(data)
	return err
}

func (p *pcmPlayer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if err := p.startLocked(); err != nil {
		log.Printf("[session] playback restart: %v", err)
	}
}

func (p *pcmPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *pcmPlayer) stopLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.stdin = nil
}
