//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/metric"
)

// scoreParam carries one item-metric pair through the worker pool. Each task
// writes exactly one cell of the result matrix, so no locking is needed.
type scoreParam struct {
	ctx     context.Context
	met     metric.Metric
	it      *item.Item
	cfg     metric.Config
	results []*metric.Result
	idx     int
	wg      *sync.WaitGroup
}

func (p *scoreParam) reset() {
	p.ctx = nil
	p.met = nil
	p.it = nil
	p.cfg = nil
	p.results = nil
	p.idx = 0
	p.wg = nil
}

var scoreParamPool = &sync.Pool{
	New: func() any { return new(scoreParam) },
}

func createScorePool(size int) (*ants.PoolWithFunc, error) {
	if size <= 0 {
		return nil, errors.New("pool size must be greater than 0")
	}
	pool, err := ants.NewPoolWithFunc(size, func(args any) {
		param, ok := args.(*scoreParam)
		if !ok {
			panic("score pool args type error")
		}
		wg := param.wg
		defer func() {
			wg.Done()
			param.reset()
			scoreParamPool.Put(param)
		}()
		param.results[param.idx] = param.met.Calculate(param.ctx, param.it, param.cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("create score pool: %w", err)
	}
	return pool, nil
}
