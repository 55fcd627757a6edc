package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RemoteFile is a single file of a catalog entry.
type RemoteFile struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Entry describes one downloadable model.
type Entry struct {
	ID       string       `yaml:"id"`
	Language string       `yaml:"language,omitempty"`
	Size     string       `yaml:"size,omitempty"`
	Files    []RemoteFile `yaml:"files"`
}

// Catalog maps model ids to downloadable files.
type Catalog map[string]Entry

// IDs returns the catalog ids in sorted order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type catalogFile struct {
	Models []Entry `yaml:"models"`
}

// LoadCatalog reads a YAML catalog file of the form
//
//	models:
//	  - id: ggml-base.en
//	    size: 148 MB
//	    files:
//	      - name: ggml-base.en.bin
//	        url: https://...
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := make(Catalog, len(f.Models))
	for _, e := range f.Models {
		if _, err := cleanID(e.ID); err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", e.ID, err)
		}
		if len(e.Files) == 0 {
			return nil, fmt.Errorf("catalog entry %q: no files", e.ID)
		}
		c[e.ID] = e
	}
	return c, nil
}

// Merge returns a catalog containing base overlaid with override.
func Merge(base, override Catalog) Catalog {
	out := make(Catalog, len(base)+len(override))
	for id, e := range base {
		out[id] = e
	}
	for id, e := range override {
		out[id] = e
	}
	return out
}

const (
	whisperBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"
	piperBaseURL   = "https://huggingface.co/rhasspy/piper-voices/resolve/main/"
)

// WhisperCatalog returns the built-in whisper.cpp ggml models.
func WhisperCatalog() Catalog {
	sizes := map[string]string{
		"ggml-tiny.en":   "75 MB",
		"ggml-tiny":      "75 MB",
		"ggml-base.en":   "142 MB",
		"ggml-base":      "142 MB",
		"ggml-small.en":  "466 MB",
		"ggml-small":     "466 MB",
		"ggml-medium.en": "1.5 GB",
		"ggml-medium":    "1.5 GB",
		"ggml-large-v3":  "2.9 GB",
	}
	c := make(Catalog, len(sizes))
	for id, size := range sizes {
		name := id + ".bin"
		c[id] = Entry{ID: id, Size: size, Files: []RemoteFile{{Name: name, URL: whisperBaseURL + name}}}
	}
	return c
}

// PiperCatalog returns the built-in piper voices.
func PiperCatalog() Catalog {
	voices := []struct{ lang, speaker, quality string }{
		{"en_US", "amy", "medium"},
		{"en_US", "lessac", "medium"},
		{"en_US", "ryan", "medium"},
		{"en_GB", "alan", "medium"},
		{"es_ES", "davefx", "medium"},
		{"fr_FR", "siwis", "medium"},
		{"de_DE", "thorsten", "medium"},
		{"it_IT", "riccardo", "x_low"},
		{"pt_BR", "faber", "medium"},
		{"zh_CN", "huayan", "medium"},
	}
	c := make(Catalog, len(voices))
	for _, v := range voices {
		id := v.lang + "-" + v.speaker + "-" + v.quality
		dir := piperBaseURL + v.lang[:2] + "/" + v.lang + "/" + v.speaker + "/" + v.quality + "/"
		c[id] = Entry{
			ID:       id,
			Language: v.lang,
			Files: []RemoteFile{
				{Name: id + ".onnx", URL: dir + id + ".onnx"},
				{Name: id + ".onnx.json", URL: dir + id + ".onnx.json"},
			},
		}
	}
	return c
}
