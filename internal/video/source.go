package video

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// FrameSource yields decoded frames from a video stream. ReadFrame blocks
// until a frame is available or the source fails.
type FrameSource interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// Interrupter is implemented by sources that can unblock a pending ReadFrame
// without releasing their resources. Close is only called once the reader
// has returned.
type Interrupter interface {
	Interrupt() error
}

// Opener connects to the stream at url.
type Opener func(url string) (FrameSource, error)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// extractJPEGFrame removes and returns the first complete JPEG in buffer.
// Bytes before the start marker are discarded along with the frame.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	start := bytes.Index(*buffer, jpegStart)
	if start == -1 {
		// Keep a trailing 0xFF in case the marker straddles two reads.
		if (*buffer)[len(*buffer)-1] == 0xFF {
			*buffer = (*buffer)[len(*buffer)-1:]
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	end := bytes.Index((*buffer)[start+2:], jpegEnd)
	if end == -1 {
		return nil
	}
	end += start + 2 + len(jpegEnd)

	frame := make([]byte, end-start)
	copy(frame, (*buffer)[start:end])
	*buffer = (*buffer)[end:]
	return frame
}

// jpegStream splits a concatenated MJPEG byte stream into decoded frames.
type jpegStream struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

func newJPEGStream(r io.Reader) *jpegStream {
	return &jpegStream{
		r:     r,
		buf:   make([]byte, 0, 1024*1024),
		chunk: make([]byte, 32*1024),
	}
}

func (s *jpegStream) ReadFrame() (image.Image, error) {
	for {
		if frame := extractJPEGFrame(&s.buf); frame != nil {
			img, err := jpeg.Decode(bytes.NewReader(frame))
			if err != nil {
				return nil, fmt.Errorf("decode frame: %w", err)
			}
			return img, nil
		}

		n, err := s.r.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err != nil {
			if n > 0 {
				continue
			}
			return nil, err
		}
	}
}

// FFmpegSource reads frames from an ffmpeg process writing MJPEG to stdout.
type FFmpegSource struct {
	*jpegStream
	cmd        *exec.Cmd
	stderrDone chan struct{}
}

func ffmpegArgs(url string) []string {
	var args []string
	if strings.HasPrefix(url, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
}

// NewFFmpegOpener returns an Opener that spawns ffmpegPath for each stream.
func NewFFmpegOpener(ffmpegPath string, logger *slog.Logger) Opener {
	return func(url string) (FrameSource, error) {
		return OpenFFmpeg(ffmpegPath, url, logger)
	}
}

// OpenFFmpeg starts ffmpeg against url.
func OpenFFmpeg(ffmpegPath, url string, logger *slog.Logger) (*FFmpegSource, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.Command(ffmpegPath, ffmpegArgs(url)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	src := &FFmpegSource{jpegStream: newJPEGStream(stdout), cmd: cmd, stderrDone: make(chan struct{})}
	go func() {
		defer close(src.stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("ffmpeg", "line", scanner.Text())
		}
	}()

	return src, nil
}

// Interrupt kills ffmpeg so a blocked ReadFrame sees EOF.
func (s *FFmpegSource) Interrupt() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Close kills ffmpeg if it is still running and reaps it. Callers must not
// have a ReadFrame in flight.
func (s *FFmpegSource) Close() error {
	if err := s.Interrupt(); err != nil {
		return err
	}
	<-s.stderrDone
	_ = s.cmd.Wait()
	return nil
}
