package streamer

import (
	"github.com/tphakala/streamcore/internal/errors"
)

// Kind is one of the distinguishable error kinds of spec.md §7. Carried as
// error Context under the "kind" key so callers can branch on it without a
// type assertion on the underlying EnhancedError.
type Kind string

const (
	KindNetworkConnectionFailed       Kind = "NetworkConnectionFailed"
	KindFileStreamGetPropertyFailed   Kind = "FileStreamGetPropertyFailed"
	KindFileStreamSetPropertyFailed   Kind = "FileStreamSetPropertyFailed"
	KindFileStreamParseBytesFailed    Kind = "FileStreamParseBytesFailed"
	KindFileStreamOpenFailed          Kind = "FileStreamOpenFailed"
	KindAudioDataNotFound             Kind = "AudioDataNotFound"
	KindAudioQueueCreationFailed      Kind = "AudioQueueCreationFailed"
	KindAudioQueueBufferAllocFailed   Kind = "AudioQueueBufferAllocationFailed"
	KindAudioQueueEnqueueFailed       Kind = "AudioQueueEnqueueFailed"
	KindAudioQueueAddListenerFailed   Kind = "AudioQueueAddListenerFailed"
	KindAudioQueueStartFailed         Kind = "AudioQueueStartFailed"
	KindAudioQueuePauseFailed         Kind = "AudioQueuePauseFailed"
	KindAudioQueueStopFailed          Kind = "AudioQueueStopFailed"
	KindAudioQueueFlushFailed         Kind = "AudioQueueFlushFailed"
	KindAudioBufferTooSmall           Kind = "AudioBufferTooSmall"
	KindTimedOut                      Kind = "TimedOut"
)

// newFailure builds the EnhancedError fail_with(code, reason) wraps
// (spec.md §7), tagging it with kind and category so subscribers and logs
// can group failures by cause.
func newFailure(kind Kind, category errors.ErrorCategory, cause error, reason string) *errors.EnhancedError {
	if cause == nil {
		cause = errors.NewStd(reason)
	}
	return errors.New(cause).
		Component("streamer").
		Category(category).
		Context("kind", string(kind)).
		Context("reason", reason).
		Build()
}
