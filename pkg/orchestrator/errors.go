package orchestrator

import "errors"

var (
	// ErrEmptyTranscription names the case where STT yields only
	// whitespace. No function in this package returns it: the call loop
	// counts such a transcript as a transcription error and drops it.
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	// ErrTranscriptionFailed wraps a transient STT failure.
	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	// ErrLLMFailed wraps a transient LLM failure.
	ErrLLMFailed = errors.New("language model generation failed")

	// ErrTTSFailed wraps a transient TTS failure.
	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	// ErrNilProvider is returned by constructors given a nil required
	// collaborator.
	ErrNilProvider = errors.New("required provider is nil")

	// ErrInvariantViolation marks a fatal internal inconsistency: the
	// single-active-turn or queue-ordering invariant was observed broken.
	// No code in this package returns it, and nothing tears a session down
	// on it.
	ErrInvariantViolation = errors.New("turn orchestration invariant violated")

	// ErrUnknownSession is returned, wrapped with the id, when an operation
	// names a session or call id that is not (or no longer) tracked.
	ErrUnknownSession = errors.New("callback for unknown session")
)
