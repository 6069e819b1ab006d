package api

import (
	"errors"
	"net/http"

	"github.com/fl-sean03/agentgate/internal/core"
)

// writeDomainError maps a core.DomainError's category onto one of spec.md
// §6's fixed error codes, falling back to INTERNAL for anything it does
// not recognize (including plain errors with no category at all).
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	code := CodeInternal
	switch domErr.Category {
	case core.ErrCatValidation, core.ErrCatGateConfiguration:
		code = CodeBadRequest
	case core.ErrCatNotFound:
		code = CodeNotFound
	case core.ErrCatConflict:
		code = CodeConflict
	}
	respondError(w, r, statusForCode(code), code, domErr.Message)
}
