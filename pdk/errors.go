package pdk

import (
	"errors"
	"fmt"
)

var (
	// Transient graph store failure, retry with a backoff
	ErrSourceUnavailable = errors.New("source unavailable")

	// Authentication or configuration failure of the graph store, fatal
	ErrSourceRejected = errors.New("source rejected")

	// Node property of a type the index can't store, the record is skipped
	ErrUnsupportedValue = errors.New("unsupported value")

	// Index is unreachable or overloaded, retry the whole batch
	ErrSinkUnavailable = errors.New("sink unavailable")

	// Index refused the credentials, fatal
	ErrSinkRejected = errors.New("sink rejected")

	// Only a leading part of the batch was acknowledged
	ErrPartialWrite = errors.New("partial write")

	// Attempt to commit a checkpoint behind the stored one
	ErrCheckpointRegression = errors.New("checkpoint regression")
)

/*
 * Property value which can't be translated into a document field
 */
type UnsupportedValueError struct {
	NodeID string
	Key    string
	Value  interface{}
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("Can't translate property '%s' of node '%s': %T is not supported", e.Key, e.NodeID, e.Value)
}

func (e *UnsupportedValueError) Unwrap() error {
	return ErrUnsupportedValue
}

/*
 * Bulk write that stopped at the first unacknowledged action.
 * Acked leading actions are durable, the rest must be retried
 */
type PartialWriteError struct {
	Acked  int
	Total  int
	Reason string
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("Only %d of %d actions acknowledged: %s", e.Acked, e.Total, e.Reason)
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

/*
 * Check whether the poll loop should back off and retry
 * after the given error instead of terminating
 */
func Retryable(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, ErrSourceRejected) || errors.Is(err, ErrSinkRejected) {
		return false
	}

	return true
}

/*
 * Check whether a graph store or an index was just not reachable.
 * Plugins failing their setup that way are already configured
 * and can be retried by the poll loop
 */
func Unavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrSinkUnavailable)
}
