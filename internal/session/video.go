package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"golang.org/x/time/rate"
)

const (
	frameMIMEType = "image/jpeg"
	// maxFrameBytes guards against a runaway frame from a misconfigured
	// capture source.
	maxFrameBytes = 4 << 20
)

// videoTask captures camera or screen frames with ffmpeg and streams them
// to the model. The rate limiter enforces the configured FPS regardless of
// what the capture source produces; frames are best-effort.
func (s *Session) videoTask(ctx context.Context, mode string) error {
	fps := s.opts.Video.FPS
	if fps <= 0 {
		fps = 1
	}

	cap, err := newFrameCapture(mode, s.opts.Video.Device, fps)
	if err != nil {
		return err
	}
	defer cap.Close()

	go func() {
		<-ctx.Done()
		cap.Close()
	}()

	limiter := rate.NewLimiter(rate.Limit(fps), 1)
	for {
		frame, err := cap.NextFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		s.enqueueMedia(frame, frameMIMEType, "frame")
	}
}

// frameCapture reads an MJPEG stream from an ffmpeg subprocess and splits
// it into individual JPEG frames on the SOI/EOI markers.
type frameCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
}

func newFrameCapture(mode, device string, fps float64) (*frameCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for video capture")
	}
	args, err := videoFFmpegArgs(runtime.GOOS, mode, device, fps)
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
		return nil, fmt.Errorf("start ffmpeg video capture: %w", err)
	}
	return &frameCapture{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 256*1024),
	}, nil
}

func videoFFmpegArgs(goos, mode, device string, fps float64) ([]string, error) {
	common := []string{
		"-hide_banner", "-loglevel", "error",
	}
	output := []string{
		"-vf", fmt.Sprintf("fps=%g,scale=1024:-1", fps),
		"-f", "mjpeg", "-q:v", "6", "-",
	}

	switch goos {
	case "darwin":
		switch mode {
		case "camera":
			if device == "" {
				device = "0:none"
			}
			return append(append(common, "-f", "avfoundation", "-framerate", "30", "-i", device), output...), nil
		case "screen":
			if device == "" {
				device = "1:none"
			}
			return append(append(common, "-f", "avfoundation", "-capture_cursor", "1", "-i", device), output...), nil
		}
	case "linux":
		switch mode {
		case "camera":
			if device == "" {
				device = "/dev/video0"
			}
			return append(append(common, "-f", "v4l2", "-i", device), output...), nil
		case "screen":
			if device == "" {
				device = ":0.0"
			}
			return append(append(common, "-f", "x11grab", "-i", device), output...), nil
		}
	default:
		return nil, fmt.Errorf("video capture is not implemented for %s", goos)
	}
	return nil, fmt.Errorf("unknown video mode: %s", mode)
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// NextFrame blocks for the next complete JPEG frame.
func (c *frameCapture) NextFrame() ([]byte, error) {
	// Scan to the start-of-image marker.
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != jpegSOI[0] {
			continue
		}
		next, err := c.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == jpegSOI[1] {
			break
		}
	}

	frame := bytes.NewBuffer(make([]byte, 0, 64*1024))
	frame.Write(jpegSOI)

	// Copy until the end-of-image marker.
	var prev byte
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		frame.WriteByte(b)
		if prev == jpegEOI[0] && b == jpegEOI[1] {
			return frame.Bytes(), nil
		}
		prev = b
		if frame.Len() > maxFrameBytes {
			return nil, errors.New("frame exceeds size bound")
		}
	}
}

func (c *frameCapture) Close() error {
	c.closeOnce.Do(func() {
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			_ = c.cmd.Wait()
		}
	})
	return nil
}
