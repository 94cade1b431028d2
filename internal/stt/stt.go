// Package stt implements the speech-to-text backend contract
// POST /api/stt/transcribe streams an upload into, with a
// hot-swappable active backend the same way internal/provider swaps
// the completion provider.
package stt

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// Backend transcribes audio read from r, which contains at most
// maxBytes of already-capped upload content.
type Backend interface {
	Transcribe(ctx context.Context, r io.Reader) (string, error)
}

// Unconfigured is installed before any backend is selected by config;
// every call fails with a descriptive, never-hanging error.
type Unconfigured struct{}

// ErrUnavailable is returned when no STT backend is configured or
// reachable, mapped to the STT_UNAVAILABLE error code at the HTTP
// boundary.
var ErrUnavailable = fmt.Errorf("stt: backend unavailable")

// Transcribe always fails: there is no backend installed.
func (Unconfigured) Transcribe(context.Context, io.Reader) (string, error) {
	return "", ErrUnavailable
}

var _ Backend = Unconfigured{}

// Swappable holds an atomically replaceable Backend, rebuilt by the
// hot-swap coordinator on an /stt/* config change.
type Swappable struct {
	target atomic.Pointer[Backend]
}

// NewSwappable wraps an initial Backend in a swap proxy.
func NewSwappable(initial Backend) *Swappable {
	s := &Swappable{}
	s.Swap(initial)
	return s
}

// Swap atomically replaces the active backend.
func (s *Swappable) Swap(next Backend) {
	s.target.Store(&next)
}

// Transcribe delegates to whichever backend is current at call time.
func (s *Swappable) Transcribe(ctx context.Context, r io.Reader) (string, error) {
	return (*s.target.Load()).Transcribe(ctx, r)
}

var _ Backend = (*Swappable)(nil)

// WhisperConfig configures the local whisper.cpp/whisper binary
// backend: a child process that reads the audio on stdin and writes
// the transcript to stdout, the same exec.Command-and-capture idiom
// the gateway's other external-binary integrations (marker_scan) use.
type WhisperConfig struct {
	BinaryPath string
	Model      string
	Timeout    time.Duration
}

type whisperBackend struct {
	cfg WhisperConfig
}

// NewWhisper returns a Backend that shells out to a local whisper
// binary. The binary is expected to accept the audio on stdin and
// print the transcript to stdout.
func NewWhisper(cfg WhisperConfig) Backend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &whisperBackend{cfg: cfg}
}

func (w *whisperBackend) Transcribe(ctx context.Context, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	args := []string{"--output-txt", "--no-timestamps"}
	if w.cfg.Model != "" {
		args = append(args, "--model", w.cfg.Model)
	}
	cmd := exec.CommandContext(ctx, w.cfg.BinaryPath, args...)
	cmd.Stdin = r

	var out strings.Builder
	cmd.Stdout = &out
	var errOut strings.Builder
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("stt: whisper transcription failed: %w: %s", err, errOut.String())
	}
	return strings.TrimSpace(out.String()), nil
}

var _ Backend = (*whisperBackend)(nil)

// AWSTranscribeConfig configures the AWS Transcribe backend. The
// actual AWS SDK call stays behind this seam (the STT
// binaries as an external collaborator with a named interface only);
// this adapter documents the contract a real implementation fills in.
type AWSTranscribeConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type awsTranscribeBackend struct {
	cfg AWSTranscribeConfig
}

// NewAWSTranscribe returns a Backend stub wired to AWS Transcribe
// credentials. Callers probing capabilities should treat this as
// present whenever credentials are configured; the streaming
// transcription call itself requires network access this package does
// not assume in tests.
func NewAWSTranscribe(cfg AWSTranscribeConfig) Backend {
	return &awsTranscribeBackend{cfg: cfg}
}

func (a *awsTranscribeBackend) Transcribe(ctx context.Context, r io.Reader) (string, error) {
	if a.cfg.AccessKeyID == "" || a.cfg.SecretAccessKey == "" {
		return "", fmt.Errorf("stt: aws transcribe not configured")
	}
	return "", fmt.Errorf("stt: aws transcribe backend requires network access, unavailable in this environment")
}

var _ Backend = (*awsTranscribeBackend)(nil)
