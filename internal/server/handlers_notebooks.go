package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashita-ai/renga/internal/model"
)

// notebookWithCells is the response shape for create and get.
type notebookWithCells struct {
	Notebook model.Notebook `json:"notebook"`
	Cells    []model.Cell   `json:"cells"`
}

// notebookPage is the response shape for list.
type notebookPage struct {
	Notebooks []model.Notebook `json:"notebooks"`
	Total     int              `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// HandleCreateNotebook handles POST /v1/notebooks.
func (h *Handlers) HandleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	var req model.CreateNotebookRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateNotebookTitle(req.Title); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	for i, in := range req.Cells {
		if err := model.ValidateCellInput(in); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"cell "+strconv.Itoa(i)+": "+err.Error())
			return
		}
	}

	nb, cells, err := h.store.CreateNotebook(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("notebook created", "notebook_id", nb.ID, "cells", len(cells))
	writeJSON(w, r, http.StatusCreated, notebookWithCells{Notebook: nb, Cells: cells})
}

// HandleListNotebooks handles GET /v1/notebooks.
func (h *Handlers) HandleListNotebooks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	notebooks, total, err := h.store.ListNotebooks(r.Context(), limit, offset)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if notebooks == nil {
		notebooks = []model.Notebook{}
	}
	writeJSON(w, r, http.StatusOK, notebookPage{
		Notebooks: notebooks,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

// HandleGetNotebook handles GET /v1/notebooks/{id}.
func (h *Handlers) HandleGetNotebook(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, r, http.StatusOK, notebookWithCells{Notebook: nb, Cells: cells})
}

// HandleDeleteNotebook handles DELETE /v1/notebooks/{id}.
func (h *Handlers) HandleDeleteNotebook(w http.ResponseWriter, r *http.Request) {
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
	if nb.Status.InFlight() {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"notebook has a run in flight; cancel it first")
		return
	}

	if err := h.store.DeleteNotebook(r.Context(), notebookID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("notebook deleted", "notebook_id", notebookID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddCell handles POST /v1/notebooks/{id}/cells.
func (h *Handlers) HandleAddCell(w http.ResponseWriter, r *http.Request) {
	notebookID, ok := h.editableNotebook(w, r)
	if !ok {
		return
	}

	var in model.CellInput
	if err := decodeJSON(w, r, &in, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateCellInput(in); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	cell, err := h.store.AddCell(r.Context(), notebookID, in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cell)
}

// HandleGetCell handles GET /v1/notebooks/{id}/cells/{cell_id}.
func (h *Handlers) HandleGetCell(w http.ResponseWriter, r *http.Request) {
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

	cell, err := h.store.GetCell(r.Context(), notebookID, cellID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cell)
}

// HandleUpdateCell handles PATCH /v1/notebooks/{id}/cells/{cell_id}.
func (h *Handlers) HandleUpdateCell(w http.ResponseWriter, r *http.Request) {
	notebookID, ok := h.editableNotebook(w, r)
	if !ok {
		return
	}
	cellID, err := pathUUID(r, "cell_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid cell id")
		return
	}

	var req model.UpdateCellRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := validateCellUpdate(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	cell, err := h.store.UpdateCellSpec(r.Context(), notebookID, cellID, req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cell)
}

// HandleDeleteCell handles DELETE /v1/notebooks/{id}/cells/{cell_id}.
// Remaining cells are repacked to dense indexes and dangling dependency
// references purged.
func (h *Handlers) HandleDeleteCell(w http.ResponseWriter, r *http.Request) {
	notebookID, ok := h.editableNotebook(w, r)
	if !ok {
		return
	}
	cellID, err := pathUUID(r, "cell_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid cell id")
		return
	}

	if err := h.store.DeleteCell(r.Context(), notebookID, cellID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("cell deleted", "notebook_id", notebookID, "cell_id", cellID)
	w.WriteHeader(http.StatusNoContent)
}

// editableNotebook parses the notebook ID and rejects edits while a run is
// in flight.
func (h *Handlers) editableNotebook(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return uuid.Nil, false
	}
	nb, err := h.store.GetNotebook(r.Context(), notebookID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return uuid.Nil, false
	}
	if nb.Status.InFlight() {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"notebook has a run in flight; cells cannot be edited")
		return uuid.Nil, false
	}
	return notebookID, true
}

func validateCellUpdate(req model.UpdateCellRequest) error {
	probe := model.CellInput{CellType: "command", Title: "x"}
	if req.CellType != nil {
		probe.CellType = *req.CellType
	}
	if req.Title != nil {
		probe.Title = *req.Title
	}
	if req.Content != nil {
		probe.Content = *req.Content
	}
	return model.ValidateCellInput(probe)
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultVal
}
