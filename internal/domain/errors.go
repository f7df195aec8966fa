package domain

import "errors"

// ExitCode is the process exit code a CLI command should return for an
// error. Mirrors the table in spec.md §6: 0 success, 1 general, 2 config,
// 3 environment, 4 network, 5 permission, 8 state-corruption, 130 interrupted.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitGeneral        ExitCode = 1
	ExitConfig         ExitCode = 2
	ExitEnvironment    ExitCode = 3
	ExitNetwork        ExitCode = 4
	ExitPermission     ExitCode = 5
	ExitStateCorrupted ExitCode = 8
	ExitInterrupted    ExitCode = 130
)

// RelayError is satisfied by every typed error the core produces so the
// CLI layer can render a one-sentence cause, a one-sentence remedy, and an
// exit code without type-switching on concrete types.
type RelayError interface {
	error
	Cause() string
	Remedy() string
	ExitCode() ExitCode
}

// Sentinel errors used with errors.Is for classification where no extra
// context needs to travel with the error.
var (
	ErrIllegalTransition = errors.New("illegal prompt state transition")
	ErrStorageFatal      = errors.New("storage layer is unrecoverable")
	ErrAuditFatal        = errors.New("audit log is unrecoverable")
)

// DuplicateNonceError is returned by Store.InsertPrompt when the nonce
// already exists (§4.1 insert_prompt).
type DuplicateNonceError struct {
	Nonce string
}

func (e *DuplicateNonceError) Error() string    { return "nonce already exists: " + e.Nonce }
func (e *DuplicateNonceError) Cause() string    { return "a prompt with this nonce was already recorded" }
func (e *DuplicateNonceError) Remedy() string   { return "this is expected on retried delivery; no action needed" }
func (e *DuplicateNonceError) ExitCode() ExitCode { return ExitGeneral }

// CommitResult is the classified outcome of Store.DecidePrompt's atomic
// decision guard (§4.1).
type CommitResult string

const (
	CommitAccepted       CommitResult = "accepted"
	CommitAlreadyDecided CommitResult = "already_decided"
	CommitExpired        CommitResult = "expired"
	CommitWrongSession   CommitResult = "wrong_session"
	CommitUnknown        CommitResult = "unknown"
)

// DecisionGuardError carries context for a non-Accepted CommitResult so
// callers can log and the router can classify without another store round-trip.
type DecisionGuardError struct {
	Result   CommitResult
	PromptID string
}

func (e *DecisionGuardError) Error() string {
	return "decision guard rejected: " + string(e.Result) + " (" + e.PromptID + ")"
}

func (e *DecisionGuardError) Cause() string {
	switch e.Result {
	case CommitAlreadyDecided:
		return "the prompt already has a committed decision"
	case CommitExpired:
		return "the prompt's TTL has elapsed"
	case CommitWrongSession:
		return "the reply's session does not own this prompt"
	default:
		return "the prompt could not be found in a decidable state"
	}
}

func (e *DecisionGuardError) Remedy() string {
	switch e.Result {
	case CommitAlreadyDecided:
		return "no action needed, the first reply already won"
	case CommitExpired:
		return "ask the human again; a fresh prompt will be created"
	default:
		return "check the prompt_id and session_id match the original delivery"
	}
}

func (e *DecisionGuardError) ExitCode() ExitCode { return ExitGeneral }

// IllegalTransitionError reports an attempted state transition rejected
// by the state machine's predicate table (§4.2).
type IllegalTransitionError struct {
	PromptID string
	From, To PromptState
}

func (e *IllegalTransitionError) Error() string {
	return "illegal transition " + string(e.From) + " -> " + string(e.To) + " for prompt " + e.PromptID
}
func (e *IllegalTransitionError) Cause() string     { return "a state transition violated the prompt lifecycle" }
func (e *IllegalTransitionError) Remedy() string     { return "this indicates a programming error; file a bug with the audit log excerpt" }
func (e *IllegalTransitionError) ExitCode() ExitCode { return ExitStateCorrupted }
func (e *IllegalTransitionError) Unwrap() error      { return ErrIllegalTransition }

// StorageFatalError wraps an unrecoverable storage failure; the daemon
// must halt with a non-zero exit when this occurs.
type StorageFatalError struct {
	Op  string
	Err error
}

func (e *StorageFatalError) Error() string      { return "storage fatal during " + e.Op + ": " + e.Err.Error() }
func (e *StorageFatalError) Cause() string       { return "the prompt store could not complete a required write" }
func (e *StorageFatalError) Remedy() string       { return "check disk space and permissions on the data directory, then restart" }
func (e *StorageFatalError) ExitCode() ExitCode   { return ExitStateCorrupted }
func (e *StorageFatalError) Unwrap() error        { return ErrStorageFatal }

// AuditFatalError wraps an unrecoverable audit log failure.
type AuditFatalError struct {
	Op  string
	Err error
}

func (e *AuditFatalError) Error() string      { return "audit fatal during " + e.Op + ": " + e.Err.Error() }
func (e *AuditFatalError) Cause() string       { return "the audit log could not be opened, read, or appended to" }
func (e *AuditFatalError) Remedy() string       { return "run 'atlasbridge doctor --fix' or truncate with a new chain-root marker" }
func (e *AuditFatalError) ExitCode() ExitCode   { return ExitStateCorrupted }
func (e *AuditFatalError) Unwrap() error        { return ErrAuditFatal }

// ChannelPermanentError signals a channel delivery failure that will not
// succeed on retry; the prompt transitions to FAILED.
type ChannelPermanentError struct {
	Channel string
	Err     error
}

func (e *ChannelPermanentError) Error() string {
	return "channel " + e.Channel + " permanent failure: " + e.Err.Error()
}
func (e *ChannelPermanentError) Cause() string     { return "the messaging channel rejected delivery permanently" }
func (e *ChannelPermanentError) Remedy() string     { return "check channel credentials/configuration and re-run the prompt" }
func (e *ChannelPermanentError) ExitCode() ExitCode { return ExitNetwork }

// InjectionFailedError signals that writing reply bytes to the child's
// PTY failed. The child is left in an undefined input state.
type InjectionFailedError struct {
	PromptID string
	Err      error
}

func (e *InjectionFailedError) Error() string {
	return "injection failed for prompt " + e.PromptID + ": " + e.Err.Error()
}
func (e *InjectionFailedError) Cause() string     { return "writing the reply bytes to the child's terminal failed" }
func (e *InjectionFailedError) Remedy() string     { return "check the child process is still alive; the session may need to be restarted" }
func (e *InjectionFailedError) ExitCode() ExitCode { return ExitGeneral }

// PolicyParseError signals an invalid policy.yaml file.
type PolicyParseError struct {
	Path string
	Err  error
}

func (e *PolicyParseError) Error() string     { return "policy parse error in " + e.Path + ": " + e.Err.Error() }
func (e *PolicyParseError) Cause() string     { return "the policy file could not be parsed" }
func (e *PolicyParseError) Remedy() string     { return "run 'atlasbridge policy validate " + e.Path + "' for details" }
func (e *PolicyParseError) ExitCode() ExitCode { return ExitConfig }
