// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/tensor"
	"github.com/born-ml/squad/optim"
)

func params() []*optim.Parameter {
	return []*optim.Parameter{
		nn.NewParameter("bert.embeddings.word_embeddings.weight", tensor.Full(tensor.Shape{2}, 1)),
		nn.NewParameter("bert.embeddings.LayerNorm.bias", tensor.Full(tensor.Shape{2}, 1)),
		nn.NewParameter("bert.pooler.dense.weight", tensor.Full(tensor.Shape{2}, 1)),
	}
}

func TestAdamWWithScheduler(t *testing.T) {
	ps := params()
	groups := optim.GroupByNoDecay(ps, optim.DefaultDropped, optim.DefaultNoDecay, 0.01)
	require.Len(t, groups, 2)

	opt := optim.NewAdamW(groups, optim.AdamWConfig{LR: 1, Eps: 1e-6})
	lr, err := optim.NewLinearWarmupProportion(1, 0.5, 4)
	require.NoError(t, err)
	sched := optim.NewScheduler(lr, opt)
	assert.InDelta(t, 0, opt.GetLR(), 1e-12)

	sched.Step()
	assert.InDelta(t, 0.5, opt.GetLR(), 1e-12)
}

func TestCreateAndRoundTrip(t *testing.T) {
	opt, err := optim.Create(params(), 1e-3, 100, 10, optim.TypeAdam, optim.CreateConfig{WeightDecayRate: 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 0, opt.GetLR(), 1e-12)

	raw, err := optim.MarshalSchedule(opt.Schedule())
	require.NoError(t, err)
	s, err := optim.UnmarshalSchedule(raw)
	require.NoError(t, err)
	assert.InDelta(t, opt.Schedule().LR(50), s.LR(50), 1e-15)

	_, err = optim.Create(params(), 1e-3, 100, 10, "lamb", optim.CreateConfig{})
	require.ErrorIs(t, err, optim.ErrNotImplemented)
}
