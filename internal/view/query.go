package view

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	"github.com/hubtap/hubtap/internal/eventhub"
)

const (
	defaultQueryTimeout = 5 * time.Second
	maxCachedPrograms   = 128
)

// Querier compiles and runs CEL filter expressions against views. Expressions
// see one row at a time through the variables body, partition, offset, seqNo,
// enqueuedTime, and partitionKey, and must evaluate to a boolean.
type Querier struct {
	env     *cel.Env
	timeout time.Duration

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewQuerier creates a querier with the row schema declared.
func NewQuerier() (*Querier, error) {
	env, err := cel.NewEnv(
		cel.Variable("body", cel.StringType),
		cel.Variable("partition", cel.IntType),
		cel.Variable("offset", cel.IntType),
		cel.Variable("seqNo", cel.IntType),
		cel.Variable("enqueuedTime", cel.TimestampType),
		cel.Variable("partitionKey", cel.StringType),
		ext.Strings(),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	return &Querier{
		env:      env,
		timeout:  defaultQueryTimeout,
		programs: make(map[string]cel.Program),
	}, nil
}

// SetTimeout bounds a single Select call.
func (q *Querier) SetTimeout(d time.Duration) {
	q.timeout = d
}

// Select returns up to limit rows of the view matching the expression, in
// arrival order. An empty expression matches everything; limit <= 0 returns
// all matches.
func (q *Querier) Select(ctx context.Context, v *View, expression string, limit int) ([]eventhub.ReceivedRecord, error) {
	if expression == "" {
		return v.Rows(limit), nil
	}

	prg, err := q.compile(expression)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	var matches []eventhub.ReceivedRecord
	for _, rec := range v.snapshot() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query timeout: %w", err)
		}

		out, _, err := prg.Eval(map[string]any{
			"body":         rec.Body,
			"partition":    int64(rec.Partition),
			"offset":       rec.Offset,
			"seqNo":        rec.SeqNo,
			"enqueuedTime": rec.EnqueuedTime,
			"partitionKey": rec.PartitionKey,
		})
		if err != nil {
			return nil, fmt.Errorf("eval filter: %w", err)
		}

		matched, ok := out.(types.Bool)
		if !ok {
			return nil, fmt.Errorf("filter must evaluate to a boolean, got %s", out.Type().TypeName())
		}
		if bool(matched) {
			matches = append(matches, rec)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// compile returns a cached program for the expression, compiling on first
// use. The cache is cleared when it grows past its bound.
func (q *Querier) compile(expression string) (cel.Program, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if prg, ok := q.programs[expression]; ok {
		return prg, nil
	}

	ast, issues := q.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter: %w", issues.Err())
	}
	prg, err := q.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program: %w", err)
	}

	if len(q.programs) >= maxCachedPrograms {
		q.programs = make(map[string]cel.Program)
	}
	q.programs[expression] = prg
	return prg, nil
}
