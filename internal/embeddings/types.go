package embeddings

// ProbeSentence is embedded once at construction to discover dimension and layer count.
const ProbeSentence = "This is some sentence"

// ServiceConfig contains configuration for embedder construction
type ServiceConfig struct {
	ModelName string          `yaml:"model_name" mapstructure:"model_name"` // "bert-base-uncased", "elmo", "elmo-incremental"
	EagerLoad bool            `yaml:"eager_load" mapstructure:"eager_load"` // load tokenizer/model before Construct returns
	CacheDir  string          `yaml:"cache_dir" mapstructure:"cache_dir"`   // "./models"
	Subword   ModelConfig     `yaml:"subword" mapstructure:"subword"`
	Recurrent RecurrentConfig `yaml:"recurrent" mapstructure:"recurrent"`
}

// ModelConfig contains subword (transformer) backend configuration
type ModelConfig struct {
	ModelName       string   `yaml:"model_name" mapstructure:"model_name"`             // pretrained identifier, set by the factory
	TokenizerPath   string   `yaml:"tokenizer_path" mapstructure:"tokenizer_path"`     // local tokenizer.json, empty fetches from the hub
	ModelPath       string   `yaml:"model_path" mapstructure:"model_path"`             // local ONNX export, empty fetches ModelFile from the hub
	ModelFile       string   `yaml:"model_file" mapstructure:"model_file"`             // "onnx/model.onnx"
	CacheDir        string   `yaml:"cache_dir" mapstructure:"cache_dir"`               // "./models"
	SegmentMarkers  *bool    `yaml:"segment_markers" mapstructure:"segment_markers"`   // nil infers from the model name
	AttentionMask   *bool    `yaml:"attention_mask" mapstructure:"attention_mask"`     // nil infers from the model name
	PadToken        string   `yaml:"pad_token" mapstructure:"pad_token"`               // overrides the resolved pad token
	SpecialTokens   []string `yaml:"special_tokens" mapstructure:"special_tokens"`     // overrides the resolved special tokens
	StrictAlignment bool     `yaml:"strict_alignment" mapstructure:"strict_alignment"` // fail on context-sensitive segmentation
}

// RecurrentConfig contains ELMo backend configuration
type RecurrentConfig struct {
	OptionsFile string `yaml:"options_file" mapstructure:"options_file"` // URL or path of the bilm options JSON
	WeightsFile string `yaml:"weights_file" mapstructure:"weights_file"` // URL or path of the ONNX export
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`       // "./models"
}

// EmbeddingError is a typed error matched with errors.Is
type EmbeddingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrInvalidInput        = &EmbeddingError{Type: "invalid_input", Message: "invalid input", Code: 1001}
	ErrModelNotLoaded      = &EmbeddingError{Type: "model_not_loaded", Message: "model not loaded", Code: 1002}
	ErrInferenceFailed     = &EmbeddingError{Type: "inference_failed", Message: "inference failed", Code: 1003}
	ErrConfigError         = &EmbeddingError{Type: "config_error", Message: "configuration error", Code: 1005}
	ErrNetworkError        = &EmbeddingError{Type: "network_error", Message: "network operation failed", Code: 1006}
	ErrTokenizationFailed  = &EmbeddingError{Type: "tokenization_failed", Message: "tokenization failed", Code: 1008}
	ErrModelDownloadFailed = &EmbeddingError{Type: "model_download_failed", Message: "model download failed", Code: 1009}
	ErrUnsupportedModel    = &EmbeddingError{Type: "unsupported_model", Message: "unsupported model", Code: 1011}
	ErrAlignment           = &EmbeddingError{Type: "alignment", Message: "word alignment failed", Code: 1012}
	ErrBackendUnavailable  = &EmbeddingError{Type: "backend_unavailable", Message: "backend not compiled in", Code: 1013}
)
