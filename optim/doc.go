// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the optimizers and learning-rate schedules used to
// fine-tune BERT for question answering.
//
// # Overview
//
// This package contains:
//   - AdamWeightDecay: Adam with decoupled weight decay, parameters selected
//     by name patterns, learning rate read from a Schedule
//   - AdamW: Adam with decoupled weight decay per parameter group
//   - Schedules: linear warm-up and decay, polynomial decay, warm-up wrapper
//   - Scheduler: drives an optimizer's rate from a Schedule, one step at a time
//
// # Basic Usage
//
//	import "github.com/born-ml/squad/optim"
//
//	func main() {
//	    groups := optim.GroupByNoDecay(model.Parameters(), optim.DefaultDropped, optim.DefaultNoDecay, 0.01)
//	    opt := optim.NewAdamW(groups, optim.AdamWConfig{LR: 3e-5, Eps: 1e-6})
//
//	    lr, err := optim.NewLinearWarmupProportion(3e-5, 0.1, totalSteps)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    sched := optim.NewScheduler(lr, opt)
//
//	    for step := int64(0); step < totalSteps; step++ {
//	        opt.ZeroGrad()
//	        // forward and backward fill the parameter gradients
//	        if err := opt.Step(); err != nil {
//	            log.Fatal(err)
//	        }
//	        sched.Step()
//	    }
//	}
//
// # Optimizers
//
// Create builds the TensorFlow-style optimizer, whose warm-up peak is
// rescaled so the decayed rate at the end of warm-up equals the requested
// one:
//
//	opt, err := optim.Create(params, 5e-5, 10000, 1000, optim.TypeAdam, optim.CreateConfig{
//	    WeightDecayRate:        0.01,
//	    ExcludeFromWeightDecay: []string{"LayerNorm", "layer_norm", "bias"},
//	})
//
// # Checkpoints
//
// Every optimizer serializes its hyperparameters with MarshalConfig and
// its moment buffers with StateDict; FromConfig and LoadStateDict restore
// them. The step counter is read with Iterations and restored with
// SetIterations.
package optim
