// Package bert implements the BERT-style question answering model that is
// fine-tuned on SQuAD.
//
// The model is deliberately small: summed word, position and token-type
// embeddings, a LayerNorm, and a linear span head producing start and end
// logits per token. Parameter names match the Hugging Face
// BertForQuestionAnswering checkpoint layout so pretrained embeddings load
// directly.
package bert

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config mirrors the fields of a BERT config.json.
type Config struct {
	VocabSize                 int     `json:"vocab_size"`
	HiddenSize                int     `json:"hidden_size"`
	NumHiddenLayers           int     `json:"num_hidden_layers"`
	NumAttentionHeads         int     `json:"num_attention_heads"`
	IntermediateSize          int     `json:"intermediate_size"`
	HiddenAct                 string  `json:"hidden_act"`
	HiddenDropoutProb         float64 `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64 `json:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int     `json:"max_position_embeddings"`
	TypeVocabSize             int     `json:"type_vocab_size"`
	InitializerRange          float64 `json:"initializer_range"`
	LayerNormEps              float64 `json:"layer_norm_eps"`
}

// DefaultConfig returns the bert-base-uncased configuration.
func DefaultConfig() Config {
	return Config{
		VocabSize:                 30522,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     512,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

// LoadConfig reads a config.json file. Fields absent from the file keep
// their bert-base values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read BERT config")
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse BERT config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid BERT config %s", path)
	}
	return cfg, nil
}

// Validate checks the dimensions the model depends on.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return errors.Errorf("vocab_size must be positive, got %d", c.VocabSize)
	case c.HiddenSize <= 0:
		return errors.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	case c.MaxPositionEmbeddings <= 0:
		return errors.Errorf("max_position_embeddings must be positive, got %d", c.MaxPositionEmbeddings)
	case c.TypeVocabSize <= 0:
		return errors.Errorf("type_vocab_size must be positive, got %d", c.TypeVocabSize)
	}
	return nil
}

// PadVocab rounds VocabSize up to a multiple of n.
func (c *Config) PadVocab(n int) {
	if rem := c.VocabSize % n; rem != 0 {
		c.VocabSize += n - rem
	}
}
