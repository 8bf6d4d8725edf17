package voice

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// AudioIO abstracts the call audio devices for the realtime bridge:
// a microphone stream from the modem's audio input and a speaker stream
// into its audio output.
type AudioIO interface {
	// Record starts capturing call audio and returns a PCM stream. Closing
	// the reader stops the capture.
	Record(ctx context.Context) (io.ReadCloser, error)
	// PlayStream starts a PCM sink for call audio. Closing the writer ends
	// playback.
	PlayStream(ctx context.Context) (io.WriteCloser, error)
}

// ExecAudio plays and records through the ALSA command line tools. The modem
// exposes its call audio as a USB sound card, so aplay/arecord against that
// device move audio in and out of the call.
//
// Realtime streams are raw signed 16-bit little-endian mono; SampleRate
// must match what the realtime provider is configured for.
type ExecAudio struct {
	// PlaybackDevice and CaptureDevice are ALSA device names ("plughw:1,0").
	// Empty means the default device.
	PlaybackDevice string
	CaptureDevice  string
	// SampleRate for raw realtime streams. Defaults to 24000.
	SampleRate int
}

func (a *ExecAudio) rate() int {
	if a.SampleRate == 0 {
		return 24000
	}
	return a.SampleRate
}

// Play plays a WAV file to completion. Satisfies Player.
func (a *ExecAudio) Play(ctx context.Context, path string) error {
	args := []string{"-q"}
	if a.PlaybackDevice != "" {
		args = append(args, "-D", a.PlaybackDevice)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, "aplay", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("aplay: %w: %s", err, out)
	}
	return nil
}

// Record starts arecord emitting raw PCM on stdout.
func (a *ExecAudio) Record(ctx context.Context) (io.ReadCloser, error) {
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(a.rate())}
	if a.CaptureDevice != "" {
		args = append(args, "-D", a.CaptureDevice)
	}

	cmd := exec.CommandContext(ctx, "arecord", args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("arecord stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start arecord: %w", err)
	}
	go cmd.Wait()
	return out, nil
}

// PlayStream starts aplay consuming raw PCM on stdin.
func (a *ExecAudio) PlayStream(ctx context.Context) (io.WriteCloser, error) {
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(a.rate())}
	if a.PlaybackDevice != "" {
		args = append(args, "-D", a.PlaybackDevice)
	}

	cmd := exec.CommandContext(ctx, "aplay", args...)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("aplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start aplay: %w", err)
	}
	go cmd.Wait()
	return in, nil
}
