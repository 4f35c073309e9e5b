package governance

import (
	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/backend"
	"github.com/ppiankov/sentinel/internal/router"
)

// Errors callers branch on. BLOCK and APPROVAL_REQUIRED are ordinary
// outcomes and are reported in the Proposal, not as errors.
var (
	ErrStateConflict      = approval.ErrStateConflict
	ErrNotFound           = approval.ErrNotFound
	ErrUnresolvedBackend  = backend.ErrUnresolvedBackend
	ErrBackendUnavailable = backend.ErrBackendUnavailable
	ErrTimeout            = backend.ErrTimeout
	ErrInvalidArguments   = router.ErrInvalidArguments
	ErrUnknownServer      = router.ErrUnknownServer
)
