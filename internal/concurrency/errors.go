// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-mq/api"
)

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = fmt.Errorf("executor is closed: %w", api.ErrTerminated)

	// ErrExecutorSaturated indicates every queue is full
	ErrExecutorSaturated = fmt.Errorf("executor queues full: %w", api.ErrResourceExhausted)

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)
