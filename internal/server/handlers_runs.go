package server

import (
	"net/http"

	"github.com/ashita-ai/renga/internal/engine"
	"github.com/ashita-ai/renga/internal/model"
)

// HandleRun handles POST /v1/notebooks/{id}/run. The run executes
// synchronously; the response carries the final (or paused) run result.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}

	req := model.RunRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}
	if req.StartFromCell < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "start_from_cell must not be negative")
		return
	}

	opts := engine.DefaultRunOptions()
	opts.Variables = req.Variables
	opts.StartFromCell = req.StartFromCell
	if req.StopOnError != nil {
		opts.StopOnError = *req.StopOnError
	}

	result, err := h.engine.Run(r.Context(), notebookID, opts)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleRunCell handles POST /v1/notebooks/{id}/cells/{cell_id}/run. It
// executes a single cell out of band, without touching the notebook run
// state.
func (h *Handlers) HandleRunCell(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}
	cellID, err := pathUUID(r, "cell_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid cell id")
		return
	}

	result, err := h.engine.RunCell(r.Context(), notebookID, cellID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleApprove handles POST /v1/notebooks/{id}/approve. On success the
// response names the cell index execution should resume from; the caller
// re-runs the notebook with start_from_cell set to it.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}

	var req model.DecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	continueFrom, err := h.engine.Approve(r.Context(), notebookID, req.CellID, req.ApprovalToken)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("cell approved", "notebook_id", notebookID, "cell_id", req.CellID)
	writeJSON(w, r, http.StatusOK, model.ApproveResponse{
		NotebookID:   notebookID,
		CellID:       req.CellID,
		ContinueFrom: continueFrom,
	})
}

// HandleReject handles POST /v1/notebooks/{id}/reject.
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}

	var req model.DecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := h.engine.Reject(r.Context(), notebookID, req.CellID, req.ApprovalToken); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("cell rejected", "notebook_id", notebookID, "cell_id", req.CellID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleReset handles POST /v1/notebooks/{id}/reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}

	if err := h.engine.Reset(r.Context(), notebookID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("notebook reset", "notebook_id", notebookID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleCancel handles POST /v1/notebooks/{id}/cancel.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}

	if err := h.engine.Cancel(r.Context(), notebookID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("cancellation requested", "notebook_id", notebookID)
	w.WriteHeader(http.StatusAccepted)
}

// HandleStatus handles GET /v1/notebooks/{id}/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}

	nb, err := h.store.GetNotebook(r.Context(), notebookID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	cells, err := h.store.ListCells(r.Context(), notebookID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := model.StatusResponse{
		Notebook: nb,
		Cells:    cells,
		Progress: model.AggregateProgress(cells),
	}
	if nb.Status == model.NotebookStatusPaused && nb.PausedAtCell != nil && h.tokens != nil {
		token, err := h.tokens.Issue(notebookID, *nb.PausedAtCell)
		if err != nil {
			h.logger.Warn("approval token reissue failed", "notebook_id", notebookID, "error", err)
		} else {
			resp.ApprovalToken = token
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
