// Package piper synthesizes speech with the piper binary. A loaded Voice is
// the parsed voice config plus the resolved model file; each Synthesize call
// runs one piper process.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/engine"
	"speechd/internal/manager"
	"speechd/internal/registry"
)

// ErrClosed is returned by Synthesize after Close.
var ErrClosed = errors.New("piper: voice closed")

// Config controls piper invocation.
type Config struct {
	// Bin is the piper executable; "piper" when empty.
	Bin string
	// Available lists compute providers; engine.Available when nil.
	Available func() []string
	Logger    zerolog.Logger
}

// NewLoader returns the manager loader for the piper family.
func NewLoader(cfg Config) manager.Loader[*Voice] {
	return func(ctx context.Context, req manager.LoadRequest) (*Voice, error) {
		return Open(cfg, req)
	}
}

// voiceConfig is the subset of <model>.onnx.json we use.
type voiceConfig struct {
	Audio struct {
		SampleRate int    `json:"sample_rate"`
		Quality    string `json:"quality"`
	} `json:"audio"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	NumSpeakers  int            `json:"num_speakers"`
	SpeakerIDMap map[string]int `json:"speaker_id_map"`
}

// Voice is a loaded piper voice.
type Voice struct {
	ID         string
	SampleRate int
	Language   string
	Quality    string

	bin      string
	model    string
	config   string
	speakers map[string]int
	useCUDA  bool
	// env is appended to the process environment of each piper run.
	env []string
	log zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// ReadVoice parses the voice config of an installed model without
// preparing it for synthesis.
func ReadVoice(id string, files registry.Files) (*Voice, error) {
	if files.Model == "" {
		return nil, errors.New("piper: model file is empty")
	}
	if files.Config == "" {
		return nil, fmt.Errorf("piper: %s has no voice config", id)
	}
	b, err := os.ReadFile(files.Config)
	if err != nil {
		return nil, fmt.Errorf("read voice config: %w", err)
	}
	var vc voiceConfig
	if err := json.Unmarshal(b, &vc); err != nil {
		return nil, fmt.Errorf("parse voice config: %w", err)
	}
	if vc.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("piper: %s: voice config has no sample rate", id)
	}
	return &Voice{
		ID:         id,
		SampleRate: vc.Audio.SampleRate,
		Language:   vc.Language.Code,
		Quality:    vc.Audio.Quality,
		model:      files.Model,
		config:     files.Config,
		speakers:   vc.SpeakerIDMap,
	}, nil
}

// Open reads the voice config next to the model file and binds the voice
// to the piper binary and the preferred provider.
func Open(cfg Config, req manager.LoadRequest) (*Voice, error) {
	v, err := ReadVoice(req.ModelID, req.Files)
	if err != nil {
		return nil, err
	}
	v.bin = cfg.Bin
	if v.bin == "" {
		v.bin = "piper"
	}
	available := cfg.Available
	if available == nil {
		available = engine.Available
	}
	top := engine.Top(engine.Rank(available(), req.Providers))
	if err := engine.CheckOptions(top, "device_id"); err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	v.useCUDA = top.Name == engine.ProviderCUDA
	if dev, ok := top.Options["device_id"]; ok && v.useCUDA {
		v.env = []string{"CUDA_VISIBLE_DEVICES=" + dev}
	}
	v.log = cfg.Logger.With().Str("component", "piper").Str("model", req.ModelID).Logger()
	v.log.Info().Int("sample_rate", v.SampleRate).Str("language", v.Language).Bool("cuda", v.useCUDA).Msg("voice loaded")
	return v, nil
}

// Speakers returns the speaker names of a multi-speaker voice, sorted.
func (v *Voice) Speakers() []string {
	out := make([]string, 0, len(v.speakers))
	for name := range v.speakers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SynthesizeOptions tune one synthesis call.
type SynthesizeOptions struct {
	// Speaker selects a speaker of a multi-speaker voice by name.
	Speaker string
	// Speed scales speaking rate; 1 or 0 keeps the voice default.
	Speed float64
}

func (v *Voice) args(opts SynthesizeOptions) ([]string, error) {
	args := []string{"--model", v.model, "--config", v.config, "--output-raw"}
	if opts.Speaker != "" {
		id, ok := v.speakers[opts.Speaker]
		if !ok {
			return nil, fmt.Errorf("piper: unknown speaker %q", opts.Speaker)
		}
		args = append(args, "--speaker", strconv.Itoa(id))
	}
	if opts.Speed > 0 && opts.Speed != 1 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/opts.Speed, 'f', 2, 64))
	}
	if v.useCUDA {
		args = append(args, "--cuda")
	}
	return args, nil
}

// Synthesize returns raw 16-bit mono PCM at SampleRate.
func (v *Voice) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, ErrClosed
	}
	args, err := v.args(opts)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, v.bin, args...)
	if len(v.env) > 0 {
		cmd.Env = append(os.Environ(), v.env...)
	}
	cmd.Stdin = bytes.NewBufferString(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper TTS: %w: %s", err, stderr.String())
	}
	v.log.Debug().Dur("took", time.Since(start)).Int("bytes", stdout.Len()).Msg("synthesized")
	return stdout.Bytes(), nil
}

// Close marks the voice closed and waits for in-flight synthesis.
func (v *Voice) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}
