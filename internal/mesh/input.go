package mesh

import (
	"context"
	"fmt"
	"reflect"
)

// Pipeline is a source whose output must be evaluated before it is read.
// Input.Same compares pipelines by identity; a pipeline whose dynamic value
// is not comparable is never the same as another.
type Pipeline interface {
	Update(ctx context.Context) error
	Output() *PolyData
}

// Kind records how an Input yields its dataset. It is decided once, when
// the Input is built.
type Kind int

const (
	KindNone Kind = iota
	KindDirect
	KindPipeline
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindPipeline:
		return "pipeline"
	default:
		return "none"
	}
}

// Input is a non-owning reference to one mesh version.
type Input struct {
	kind     Kind
	data     *PolyData
	pipeline Pipeline
}

func Direct(pd *PolyData) Input {
	if pd == nil {
		return Input{}
	}
	return Input{kind: KindDirect, data: pd}
}

func FromPipeline(p Pipeline) Input {
	if p == nil {
		return Input{}
	}
	return Input{kind: KindPipeline, pipeline: p}
}

func (in Input) Kind() Kind   { return in.kind }
func (in Input) IsZero() bool { return in.kind == KindNone }

// Same reports whether both inputs reference the same dataset or pipeline.
func (in Input) Same(o Input) bool {
	if in.kind != o.kind {
		return false
	}
	switch in.kind {
	case KindDirect:
		return in.data == o.data
	case KindPipeline:
		return samePipeline(in.pipeline, o.pipeline)
	}
	return true
}

func samePipeline(a, b Pipeline) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}

// Resolve returns the dataset, evaluating the pipeline first when needed.
func (in Input) Resolve(ctx context.Context) (*PolyData, error) {
	switch in.kind {
	case KindDirect:
		return in.data, nil
	case KindPipeline:
		if err := in.pipeline.Update(ctx); err != nil {
			return nil, fmt.Errorf("pipeline update: %w", err)
		}
		pd := in.pipeline.Output()
		if pd == nil {
			return nil, fmt.Errorf("%w: pipeline produced no output", ErrInvalidMesh)
		}
		return pd, nil
	default:
		return nil, fmt.Errorf("%w: empty input", ErrInvalidMesh)
	}
}
