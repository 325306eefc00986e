package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gogpu/wgpu/hal"
)

// DefaultFenceTimeout bounds every wait on submitted work.
const DefaultFenceTimeout = 5 * time.Second

// Poll intervals used while the queue has not yet reported completion.
const (
	pollInitialInterval = 50 * time.Microsecond
	pollMaxInterval     = 2 * time.Millisecond
)

var errPending = errors.New("gpu: submission pending")

// waitError reports a failure after the work was submitted. The device may
// still be executing it, so resources it references must not be released.
type waitError struct {
	index uint64
	err   error
}

func (e *waitError) Error() string {
	return fmt.Sprintf("gpu: wait for submission %d: %v", e.index, e.err)
}

func (e *waitError) Unwrap() error { return e.err }

// isWaitFailure reports whether err happened while waiting on the device.
func isWaitFailure(err error) bool {
	var we *waitError
	return errors.As(err, &we)
}

// submitter records, submits and waits for one-shot command buffers on a
// borrowed device and queue.
type submitter struct {
	device  hal.Device
	queue   hal.Queue
	timeout time.Duration // 0 waits without bound
	metrics *Metrics
}

// run records commands with fn, submits them and blocks until the queue
// reports completion. Cancellation before submission leaves nothing in
// flight; any error after submission is a *waitError.
func (s *submitter) run(ctx context.Context, label string, fn func(enc hal.CommandEncoder)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("%w: create encoder %q: %w", ErrSubmit, label, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("%w: begin encoding %q: %w", ErrSubmit, label, err)
	}
	fn(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding %q: %w", ErrSubmit, label, err)
	}

	index, err := s.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		s.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("%w: %q: %w", ErrSubmit, label, err)
	}

	if err := s.wait(ctx, index); err != nil {
		// The command buffer may still be in use; leak it rather than free it.
		slogger().Warn("submit: wait failed", "label", label, "submission", index, "err", err)
		return err
	}
	s.device.FreeCommandBuffer(cmd)
	return nil
}

// wait blocks until the queue has completed submission index.
func (s *submitter) wait(ctx context.Context, index uint64) error {
	start := time.Now()
	defer func() { s.metrics.observeWait(time.Since(start)) }()

	if s.queue.PollCompleted() >= index {
		return nil
	}

	waitCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(pollInitialInterval),
		backoff.WithMaxInterval(pollMaxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	err := backoff.Retry(func() error {
		if s.queue.PollCompleted() >= index {
			return nil
		}
		return errPending
	}, backoff.WithContext(bo, waitCtx))
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %v", ErrFenceTimeout, s.timeout)
	}
	return &waitError{index: index, err: err}
}
