package multimodal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// FrameExtractor pulls sampled frames and the audio track out of a video.
type FrameExtractor interface {
	Frames(ctx context.Context, video []byte, fps int) ([][]byte, error)
	AudioTrack(ctx context.Context, video []byte) ([]byte, error)
}

// FFmpeg shells out to ffmpeg over pipes; nothing touches disk.
type FFmpeg struct {
	path string
}

var _ FrameExtractor = (*FFmpeg)(nil)

// NewFFmpeg builds an extractor. An empty path resolves "ffmpeg" from PATH.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path}
}

// Frames samples the video at the given rate and returns one PNG per frame.
func (f *FFmpeg) Frames(ctx context.Context, video []byte, fps int) ([][]byte, error) {
	if fps <= 0 {
		fps = 1
	}
	out, err := f.run(ctx, video,
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("multimodal: extract frames: %w", err)
	}
	return splitPNGStream(out), nil
}

// AudioTrack demuxes the audio stream as mp3 for transcription.
func (f *FFmpeg) AudioTrack(ctx context.Context, video []byte) ([]byte, error) {
	out, err := f.run(ctx, video,
		"-i", "pipe:0",
		"-vn",
		"-acodec", "libmp3lame",
		"-f", "mp3",
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("multimodal: extract audio track: %w", err)
	}
	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", f.path, err, truncate(stderr.String(), 256))
	}
	return stdout.Bytes(), nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// splitPNGStream cuts an image2pipe PNG stream at signature boundaries.
func splitPNGStream(stream []byte) [][]byte {
	var frames [][]byte
	for {
		start := bytes.Index(stream, pngMagic)
		if start < 0 {
			break
		}
		next := bytes.Index(stream[start+len(pngMagic):], pngMagic)
		if next < 0 {
			frames = append(frames, stream[start:])
			break
		}
		end := start + len(pngMagic) + next
		frames = append(frames, stream[start:end])
		stream = stream[end:]
	}
	return frames
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// StubFrames is the offline extractor: no frames, and the container bytes
// pass through as the audio track for the stub transcriber.
type StubFrames struct{}

var _ FrameExtractor = (*StubFrames)(nil)

// Frames returns no frames.
func (StubFrames) Frames(context.Context, []byte, int) ([][]byte, error) { return nil, nil }

// AudioTrack passes the container bytes through.
func (StubFrames) AudioTrack(_ context.Context, video []byte) ([]byte, error) { return video, nil }
