// Package streamproc drives a parser.Parser into fixed-size batches and
// hands each batch to an async executor through a bounded queue, so memory
// use stays proportional to batchSize*maxQueueSize rather than file size.
package streamproc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/nz-health/extract-loader/internal/parser"
)

// DefaultMaxQueueSize is the bounded queue capacity used when the caller
// does not configure one.
const DefaultMaxQueueSize = 5

// Batch is one group of rows handed to the executor, in accumulation
// order.
type Batch struct {
	Rows        []parser.Row
	BatchNumber int
}

// BatchResult reports what an executor did with one Batch.
type BatchResult struct {
	Success      bool
	RowsInserted int
}

// Executor writes one batch and reports the outcome. A returned error does
// not stop the stream by itself; Options.ContinueOnError decides that.
type Executor func(ctx context.Context, batch Batch) (BatchResult, error)

// Options configures a Processor.
type Options struct {
	BatchSize       int
	MaxQueueSize    int
	ContinueOnError bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}

	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}

	return o
}

// Summary totals a Processor run.
type Summary struct {
	TotalRows         int
	RowsInserted      int
	SuccessfulBatches int
	FailedBatches     int
	Errors            []error
}

// Processor pulls rows from a parser.Parser and drives them through an
// Executor in strict accumulation order.
type Processor struct {
	source   *parser.Parser
	opts     Options
	executor Executor
}

// New builds a Processor reading from source and dispatching full batches
// to executor.
func New(source *parser.Parser, opts Options, executor Executor) *Processor {
	return &Processor{source: source, opts: opts.withDefaults(), executor: executor}
}

// Run drains the source to completion, returning accumulated totals. A
// parser error or (when ContinueOnError is false) an executor error stops
// the run early; the returned Summary still reflects whatever was
// processed before the stop.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	batchCh := make(chan Batch, p.opts.MaxQueueSize)
	prodErrCh := make(chan error, 1)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		defer close(batchCh)

		if err := p.produce(ctx, batchCh); err != nil {
			prodErrCh <- err
		}
	}()

	summary, consErr := p.consume(ctx, batchCh)

	wg.Wait()
	close(prodErrCh)

	if prodErr := <-prodErrCh; prodErr != nil {
		return summary, prodErr
	}

	return summary, consErr
}

// produce reads rows from the source and sends full batches to batchCh.
// Sending blocks when the queue is full — this blocking send is this
// package's backpressure mechanism: the producer pauses until the
// consumer drains a slot.
func (p *Processor) produce(ctx context.Context, batchCh chan<- Batch) error {
	var current []parser.Row

	batchNumber := 0

	flush := func() bool {
		if len(current) == 0 {
			return true
		}

		batchNumber++

		select {
		case batchCh <- Batch{Rows: current, BatchNumber: batchNumber}:
			current = nil

			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		row, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()

				return nil
			}

			return err
		}

		current = append(current, row)

		if len(current) >= p.opts.BatchSize {
			if !flush() {
				return ctx.Err()
			}
		}
	}
}

// consume drains batchCh in order, invoking the executor for each batch.
func (p *Processor) consume(ctx context.Context, batchCh <-chan Batch) (Summary, error) {
	var summary Summary

	for batch := range batchCh {
		summary.TotalRows += len(batch.Rows)

		result, err := p.executor(ctx, batch)
		if err != nil {
			summary.FailedBatches++
			summary.Errors = append(summary.Errors, err)

			if !p.opts.ContinueOnError {
				drain(batchCh)

				return summary, err
			}

			continue
		}

		summary.SuccessfulBatches++
		summary.RowsInserted += result.RowsInserted
	}

	return summary, nil
}

// drain discards any batches left in the channel so the producer goroutine
// (which may be blocked on a send) can exit after the consumer stops early.
func drain(batchCh <-chan Batch) {
	for range batchCh {
	}
}
