// Package transform implements the transformer sub-pipeline embedded
// inside delivery stages: metadata rewriting (alias expansion, SRS
// rewriting and bounce decoding, sender/recipient routing) and combined
// metadata+body rewriting (header/body routing, DKIM signing).
package transform

import "feathermail/stage"

// MetaTransformer rewrites envelope metadata only.
type MetaTransformer interface {
	TransformMeta(meta stage.Meta) (stage.Meta, error)
}

// DataTransformer rewrites both the raw message body and metadata.
type DataTransformer interface {
	TransformData(raw []byte, meta stage.Meta) ([]byte, stage.Meta, error)
}

// Transformer is any pipeline-configured transform step. A concrete type
// implements MetaTransformer, DataTransformer, or both.
type Transformer interface{}

// Run executes meta transformers in order, then data transformers in
// order, per the contract: "(1) run meta transformers in order; (2) run
// data transformers in order; (3) invoke the delivery action with the
// rewritten (raw, meta)". It returns the rewritten (raw, meta) ready for
// the delivery action.
func Run(transformers []Transformer, raw []byte, meta stage.Meta) ([]byte, stage.Meta, error) {
	for _, t := range transformers {
		mt, ok := t.(MetaTransformer)
		if !ok {
			continue
		}
		newMeta, err := mt.TransformMeta(meta)
		if err != nil {
			return nil, nil, err
		}
		meta = newMeta
	}

	for _, t := range transformers {
		dt, ok := t.(DataTransformer)
		if !ok {
			continue
		}
		newRaw, newMeta, err := dt.TransformData(raw, meta)
		if err != nil {
			return nil, nil, err
		}
		raw, meta = newRaw, newMeta
	}

	return raw, meta, nil
}
