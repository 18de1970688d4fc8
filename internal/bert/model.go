package bert

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/tensor"
)

// Parameter name prefixes.
const (
	prefixEmbeddings = "bert.embeddings"
	prefixPooler     = "bert.pooler.dense"
	prefixQAOutputs  = "qa_outputs"
)

// QuestionAnswering predicts answer spans: for every token it produces a
// start logit and an end logit.
//
// Architecture:
//
//	hidden = LayerNorm(word[input_ids] + position[pos] + token_type[segment_ids])
//	start, end = split(qa_outputs(hidden))
//
// The pooler is never used by the span head; it exists so checkpoints that
// carry it load without unexpected keys, and it never receives a gradient.
type QuestionAnswering struct {
	WordEmbeddings      *nn.Embedding
	PositionEmbeddings  *nn.Embedding
	TokenTypeEmbeddings *nn.Embedding
	EmbeddingsNorm      *nn.LayerNorm
	Pooler              *nn.Linear
	QAOutputs           *nn.Linear

	config Config
	batch  int
	seqLen int
}

// New creates a randomly initialized model. Weights are drawn from
// N(0, initializer_range²), LayerNorm starts at identity and biases at zero.
func New(cfg Config, rng *rand.Rand) (*QuestionAnswering, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	std := cfg.InitializerRange
	h := cfg.HiddenSize
	eps := cfg.LayerNormEps
	if eps == 0 {
		eps = 1e-12
	}
	return &QuestionAnswering{
		WordEmbeddings:      nn.NewEmbedding(prefixEmbeddings+".word_embeddings", cfg.VocabSize, h, std, rng),
		PositionEmbeddings:  nn.NewEmbedding(prefixEmbeddings+".position_embeddings", cfg.MaxPositionEmbeddings, h, std, rng),
		TokenTypeEmbeddings: nn.NewEmbedding(prefixEmbeddings+".token_type_embeddings", cfg.TypeVocabSize, h, std, rng),
		EmbeddingsNorm:      nn.NewLayerNorm(prefixEmbeddings+".LayerNorm", h, float32(eps)),
		Pooler:              nn.NewLinear(prefixPooler, h, h, std, rng),
		QAOutputs:           nn.NewLinear(prefixQAOutputs, h, 2, std, rng),
		config:              cfg,
	}, nil
}

// Config returns the model configuration.
func (m *QuestionAnswering) Config() Config {
	return m.config
}

// Parameters returns all parameters in checkpoint order.
func (m *QuestionAnswering) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, mod := range []nn.Module{
		m.WordEmbeddings,
		m.PositionEmbeddings,
		m.TokenTypeEmbeddings,
		m.EmbeddingsNorm,
		m.Pooler,
		m.QAOutputs,
	} {
		params = append(params, mod.Parameters()...)
	}
	return params
}

// Forward computes start and end logits, each [batch, seqLen], for
// row-major inputIDs and segmentIDs of batch*seqLen tokens.
func (m *QuestionAnswering) Forward(inputIDs, segmentIDs []int32, batch, seqLen int) (start, end *tensor.Tensor, err error) {
	n := batch * seqLen
	if batch <= 0 || seqLen <= 0 {
		return nil, nil, errors.Errorf("invalid batch shape [%d, %d]", batch, seqLen)
	}
	if len(inputIDs) != n || len(segmentIDs) != n {
		return nil, nil, errors.Errorf("expected %d input and segment ids, got %d and %d", n, len(inputIDs), len(segmentIDs))
	}
	if seqLen > m.config.MaxPositionEmbeddings {
		return nil, nil, errors.Errorf("sequence length %d exceeds max_position_embeddings %d",
			seqLen, m.config.MaxPositionEmbeddings)
	}

	positions := make([]int32, n)
	for i := range positions {
		positions[i] = int32(i % seqLen)
	}

	emb, err := m.WordEmbeddings.Forward(inputIDs)
	if err != nil {
		return nil, nil, err
	}
	pos, err := m.PositionEmbeddings.Forward(positions)
	if err != nil {
		return nil, nil, err
	}
	typ, err := m.TokenTypeEmbeddings.Forward(segmentIDs)
	if err != nil {
		return nil, nil, err
	}
	e, p, t := emb.Data(), pos.Data(), typ.Data()
	for i := range e {
		e[i] += p[i] + t[i]
	}

	hidden := m.EmbeddingsNorm.Forward(emb)
	logits := m.QAOutputs.Forward(hidden).Data()

	start = tensor.Zeros(tensor.Shape{batch, seqLen})
	end = tensor.Zeros(tensor.Shape{batch, seqLen})
	s, en := start.Data(), end.Data()
	for i := range n {
		s[i] = logits[2*i]
		en[i] = logits[2*i+1]
	}
	m.batch, m.seqLen = batch, seqLen
	return start, end, nil
}

// Backward propagates the logit gradients of the last Forward call into
// the parameter gradients.
func (m *QuestionAnswering) Backward(gradStart, gradEnd *tensor.Tensor) error {
	n := m.batch * m.seqLen
	if n == 0 {
		return errors.New("backward called before forward")
	}
	if gradStart.NumElements() != n || gradEnd.NumElements() != n {
		return errors.Errorf("expected logit gradients of %d elements, got %d and %d",
			n, gradStart.NumElements(), gradEnd.NumElements())
	}

	dLogits := tensor.Zeros(tensor.Shape{n, 2})
	d, gs, ge := dLogits.Data(), gradStart.Data(), gradEnd.Data()
	for i := range n {
		d[2*i] = gs[i]
		d[2*i+1] = ge[i]
	}

	dHidden := m.QAOutputs.Backward(dLogits)
	dEmb := m.EmbeddingsNorm.Backward(dHidden)
	m.WordEmbeddings.Backward(dEmb)
	m.PositionEmbeddings.Backward(dEmb)
	m.TokenTypeEmbeddings.Backward(dEmb)
	return nil
}
