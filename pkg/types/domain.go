package types

// Task names follow the OpenAI-style model task vocabulary.
const (
	TaskSpeechRecognition = "automatic-speech-recognition"
	TaskTextToSpeech      = "text-to-speech"
)

// Model represents a speech model known to a registry, either installed
// locally or downloadable from the catalog.
type Model struct {
	// Stable identifier for the model.
	// example: ggml-base.en
	ID string `json:"id" example:"ggml-base.en"`
	// Task served by the model.
	// example: automatic-speech-recognition
	Task string `json:"task" example:"automatic-speech-recognition"`
	// Engine family that loads the model (whisper, piper).
	// example: whisper
	Family string `json:"family" example:"whisper"`
	// Absolute path to the primary model file when installed locally.
	// example: /home/user/.local/share/speechd/whisper/ggml-base.en.bin
	Path string `json:"path,omitempty" example:"/home/user/.local/share/speechd/whisper/ggml-base.en.bin"`
	// Total size of the installed files in bytes.
	// example: 147951465
	SizeBytes uint64 `json:"size_bytes,omitempty" example:"147951465"`
	// Human readable size.
	// example: 148 MB
	Size string `json:"size,omitempty" example:"148 MB"`
	// Language of a synthesis voice, when known.
	// example: en_US
	Language string `json:"language,omitempty" example:"en_US"`
}
