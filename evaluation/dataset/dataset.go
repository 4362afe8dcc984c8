//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package dataset loads evaluation items from YAML dataset files. Datasets
// are model-agnostic: each record may carry responses from several models and
// the loader extracts the one being evaluated.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/evalkit/evalkit/evaluation/item"
)

// ErrNoItems reports a dataset path that matched no records.
var ErrNoItems = errors.New("dataset contains no items")

// Loader loads the evaluation items of one model from a dataset path.
type Loader interface {
	// Load reads the dataset at path and returns the items for modelName.
	// The path may be a glob pattern; matched files merge in name order.
	Load(ctx context.Context, path, modelName string) ([]*item.Item, error)
}

// Options holds the configuration for the file loader.
type Options struct {
	BaseDir string
}

// Option configures the file loader.
type Option func(*Options)

// WithBaseDir resolves relative dataset paths against dir.
func WithBaseDir(dir string) Option {
	return func(o *Options) { o.BaseDir = dir }
}

// FileLoader is the YAML file implementation of Loader.
type FileLoader struct {
	baseDir string
}

// NewFileLoader creates a loader for YAML dataset files.
func NewFileLoader(opt ...Option) *FileLoader {
	opts := &Options{}
	for _, o := range opt {
		o(opts)
	}
	return &FileLoader{baseDir: opts.BaseDir}
}

// record is one dataset row in either file format.
type record struct {
	Question        string            `yaml:"question"`
	Answer          string            `yaml:"answer"`
	Context         string            `yaml:"context"`
	ExpectedAnswer  string            `yaml:"expected_answer"`
	ReferenceOutput string            `yaml:"reference_output"`
	Category        string            `yaml:"category"`
	Difficulty      string            `yaml:"difficulty"`
	Metadata        map[string]string `yaml:"metadata"`
	ModelResponses  map[string]string `yaml:"model_responses"`
}

// datasetFile is the primary format: a top-level data list.
type datasetFile struct {
	Data []*record `yaml:"data"`
}

// Load reads one file or a glob of files and extracts modelName's items.
func (l *FileLoader) Load(ctx context.Context, path, modelName string) ([]*item.Item, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("dataset path is empty")
	}
	if l.baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.baseDir, path)
	}
	files, err := expand(path)
	if err != nil {
		return nil, err
	}
	var items []*item.Item
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readFile(file)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			items = append(items, rec.toItem(modelName))
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoItems)
	}
	return items, nil
}

// expand resolves a glob pattern into a sorted file list, or passes a plain
// path through untouched.
func expand(path string) ([]string, error) {
	if !strings.ContainsAny(path, "*?[{") {
		return []string{path}, nil
	}
	matches, err := doublestar.FilepathGlob(path)
	if err != nil {
		return nil, fmt.Errorf("expand dataset glob %s: %w", path, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("dataset glob %s matched no files", path)
	}
	sort.Strings(matches)
	return matches, nil
}

// readFile parses one dataset file in either supported format.
func readFile(path string) ([]*record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	var file datasetFile
	if err := yaml.Unmarshal(raw, &file); err == nil && file.Data != nil {
		return file.Data, nil
	}
	// Legacy format: a top-level mapping of record IDs to records. Key order
	// in YAML maps is not preserved by generic decoding, so records sort by
	// their keys.
	var legacy map[string]*record
	if err := yaml.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	keys := make([]string, 0, len(legacy))
	for k, rec := range legacy {
		if rec == nil || rec.Question == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	records := make([]*record, 0, len(keys))
	for _, k := range keys {
		records = append(records, legacy[k])
	}
	return records, nil
}

// toItem converts one record into the item evaluated for modelName. The
// model's own response wins over a pre-filled answer column.
func (r *record) toItem(modelName string) *item.Item {
	answer := r.Answer
	if resp, ok := r.ModelResponses[modelName]; ok {
		answer = resp
	}
	it := &item.Item{
		Question:        r.Question,
		Answer:          answer,
		Context:         r.Context,
		ExpectedAnswer:  r.ExpectedAnswer,
		ReferenceOutput: r.ReferenceOutput,
	}
	if len(r.Metadata) > 0 || r.Category != "" || r.Difficulty != "" {
		it.Metadata = make(map[string]string, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			it.Metadata[k] = v
		}
		if r.Category != "" {
			it.Metadata["category"] = r.Category
		}
		if r.Difficulty != "" {
			it.Metadata["difficulty"] = r.Difficulty
		}
	}
	return it
}
