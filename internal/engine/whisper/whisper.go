// Package whisper runs speech recognition models in a resident
// whisper.cpp server subprocess, one per loaded model.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/engine"
	"speechd/internal/manager"
)

// ErrClosed is returned by Transcribe after Close.
var ErrClosed = errors.New("whisper: model closed")

// Config controls how whisper-server processes are spawned.
type Config struct {
	// Bin is the whisper-server executable; "whisper-server" when empty.
	Bin string
	// Host to bind; 127.0.0.1 when empty.
	Host    string
	Threads int
	// ReadyTimeout bounds the wait for the server to answer; 30s when zero.
	ReadyTimeout time.Duration
	// StopGrace is the wait between SIGTERM and kill; 2s when zero.
	StopGrace time.Duration
	// Available lists compute providers; engine.Available when nil.
	Available func() []string
	Logger    zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Bin == "" {
		c.Bin = "whisper-server"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 2 * time.Second
	}
	if c.Available == nil {
		c.Available = engine.Available
	}
	return c
}

// NewLoader returns the manager loader for the whisper family.
func NewLoader(cfg Config) manager.Loader[*Model] {
	cfg = cfg.withDefaults()
	return func(ctx context.Context, req manager.LoadRequest) (*Model, error) {
		return Start(ctx, cfg, req)
	}
}

// Model is a running whisper-server bound to one weights file. Requests are
// serialized; the server decodes one file at a time.
type Model struct {
	id      string
	path    string
	baseURL string
	grace   time.Duration
	log     zerolog.Logger
	client  *http.Client

	cmd     *exec.Cmd
	stderr  *tailBuffer
	exited  chan struct{}
	waitErr error

	mu     sync.Mutex
	closed bool
}

// providerFlags maps provider options onto whisper-server flags.
var providerFlags = map[string]engine.Flag{
	"device_id":  {Name: "-dev"},
	"threads":    {Name: "-t"},
	"processors": {Name: "-p"},
	"flash_attn": {Name: "-fa", Switch: true},
}

func buildArgs(cfg Config, modelPath string, port int, ranked []engine.Provider) ([]string, error) {
	top := engine.Top(ranked)
	extra, err := engine.OptionArgs(top, providerFlags)
	if err != nil {
		return nil, err
	}
	args := []string{
		"-m", modelPath,
		"--host", cfg.Host,
		"--port", strconv.Itoa(port),
	}
	// a threads option wins over the family setting
	if _, ok := top.Options["threads"]; !ok && cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(cfg.Threads))
	}
	args = append(args, extra...)
	if top.Name == engine.ProviderCPU {
		args = append(args, "-ng")
	}
	return args, nil
}

// Start spawns whisper-server for req and waits until it answers HTTP.
func Start(ctx context.Context, cfg Config, req manager.LoadRequest) (*Model, error) {
	cfg = cfg.withDefaults()
	if req.Files.Model == "" {
		return nil, errors.New("whisper: model file is empty")
	}
	port, err := pickFreePort(cfg.Host)
	if err != nil {
		return nil, err
	}
	ranked := engine.Rank(cfg.Available(), req.Providers)
	args, err := buildArgs(cfg, req.Files.Model, port, ranked)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	cmd := exec.Command(cfg.Bin, args...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper-server: %w", err)
	}
	m := &Model{
		id:      req.ModelID,
		path:    req.Files.Model,
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, port),
		grace:   cfg.StopGrace,
		log:     cfg.Logger.With().Str("component", "whisper").Str("model", req.ModelID).Logger(),
		// no client timeout; every call carries a context deadline
		client: &http.Client{Timeout: 0},
		cmd:    cmd,
		stderr: stderr,
		exited: make(chan struct{}),
	}
	go func() {
		m.waitErr = cmd.Wait()
		close(m.exited)
	}()
	m.log.Info().Int("pid", cmd.Process.Pid).Int("port", port).Str("provider", engine.Preferred(ranked)).Msg("whisper-server started")

	if err := m.waitReady(ctx, cfg.ReadyTimeout); err != nil {
		_ = m.stop()
		return nil, err
	}
	m.log.Info().Str("url", m.baseURL).Msg("whisper-server ready")
	return m, nil
}

func (m *Model) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("whisper-server not ready in time: %s", m.baseURL)
		}
		select {
		case <-m.exited:
			if m.waitErr != nil {
				return fmt.Errorf("whisper-server exited early: %v; stderr tail: %s", m.waitErr, m.stderr.String())
			}
			return fmt.Errorf("whisper-server exited before ready: %s", m.baseURL)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if m.healthy(ctx, time.Second) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (m *Model) healthy(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// TranscribeOptions are passed through to the server's inference endpoint.
type TranscribeOptions struct {
	Language    string
	Prompt      string
	Temperature float64
}

// Transcript is the decoded server response.
type Transcript struct {
	Text string `json:"text"`
}

// Transcribe uploads audio and returns the transcript.
func (m *Model) Transcribe(ctx context.Context, audio io.Reader, filename string, opts TranscribeOptions) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Transcript{}, ErrClosed
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Transcript{}, err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return Transcript{}, fmt.Errorf("read audio: %w", err)
	}
	_ = mw.WriteField("response_format", "json")
	_ = mw.WriteField("temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64))
	if opts.Language != "" {
		_ = mw.WriteField("language", opts.Language)
	}
	if opts.Prompt != "" {
		_ = mw.WriteField("prompt", opts.Prompt)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/inference", &body)
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Transcript{}, ctx.Err()
		}
		return Transcript{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Transcript{}, fmt.Errorf("whisper-server http error: %s: %s", resp.Status, string(b))
	}
	var out Transcript
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	m.log.Debug().Dur("took", time.Since(start)).Int("chars", len(out.Text)).Msg("transcribed")
	return out, nil
}

// ID returns the model id.
func (m *Model) ID() string { return m.id }

// PID returns the server process id.
func (m *Model) PID() int { return m.cmd.Process.Pid }

// BaseURL returns the server address.
func (m *Model) BaseURL() string { return m.baseURL }

// Close stops the server: SIGTERM first, kill after the grace period.
// Further calls are no-ops.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.stop()
}

func (m *Model) stop() error {
	select {
	case <-m.exited:
		return nil
	default:
	}
	_ = m.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-m.exited:
		m.log.Info().Msg("whisper-server stopped")
		return nil
	case <-time.After(m.grace):
	}
	m.log.Warn().Dur("grace", m.grace).Msg("whisper-server ignored SIGTERM, killing")
	if err := m.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill whisper-server: %w", err)
	}
	<-m.exited
	return nil
}
