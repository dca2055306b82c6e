// Package handlers implements the HTTP endpoints of the expense tracker.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/expense"
	"github.com/dvloznov/expense-tracker/internal/ocr"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/dvloznov/expense-tracker/internal/storage"
)

// maxReceiptBytes caps one uploaded receipt image.
const maxReceiptBytes = 10 << 20

// Ingester runs the receipt ingestion pipeline for one upload.
type Ingester interface {
	Ingest(ctx context.Context, in pipeline.Input) (*expense.Expense, error)
}

// ExpenseService is the slice of the expense committer the handlers use.
type ExpenseService interface {
	Create(ctx context.Context, f expense.Fields) (*expense.Expense, error)
	Get(ctx context.Context, id, ownerID string) (*expense.Expense, error)
	List(ctx context.Context, ownerID string, from, to civil.Date) ([]*expense.Expense, error)
	Update(ctx context.Context, id, ownerID string, p expense.Patch) (*expense.Expense, error)
	Delete(ctx context.Context, id, ownerID string) error
}

// ArtifactStore is the slice of the object store the handlers use.
type ArtifactStore interface {
	Put(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error)
	SignedURL(ctx context.Context, key string, profile storage.URLProfile) (string, error)
}

// ReceiptsHandler handles receipt upload and display endpoints.
type ReceiptsHandler struct {
	ingester Ingester
	svc      ExpenseService
	store    ArtifactStore
	log      zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(ingester Ingester, svc ExpenseService, store ArtifactStore, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{
		ingester: ingester,
		svc:      svc,
		store:    store,
		log:      log,
	}
}

// ProcessReceipt handles POST /api/receipts/process
//
// The request is multipart form data with the image under "receipt" and
// optional manual override fields alongside it.
func (r *ReceiptsHandler) ProcessReceipt(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	ownerID := middleware.OwnerFromContext(ctx)

	if err := req.ParseMultipartForm(maxReceiptBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := req.FormFile("receipt")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "A receipt file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read receipt file")
		return
	}
	if len(data) > maxReceiptBytes {
		middleware.WriteError(w, http.StatusBadRequest, "Receipt file is too large")
		return
	}

	overrides, err := parseOverrides(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := r.ingester.Ingest(ctx, pipeline.Input{
		OwnerID:     ownerID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Overrides:   overrides,
	})
	if err != nil {
		r.writeDomainError(w, err, "Failed to process receipt")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Receipt processed successfully",
		"expense": e,
	})
}

// ReceiptURL handles GET /api/receipts/:expenseId/url
//
// It returns a short-lived URL that renders the stored receipt inline.
func (r *ReceiptsHandler) ReceiptURL(w http.ResponseWriter, req *http.Request, expenseID string) {
	ctx := req.Context()
	ownerID := middleware.OwnerFromContext(ctx)

	e, err := r.svc.Get(ctx, expenseID, ownerID)
	if err != nil {
		r.writeDomainError(w, err, "Failed to look up expense")
		return
	}

	url, err := r.store.SignedURL(ctx, e.ArtifactKey, storage.ProfileInlineDisplay)
	if err != nil {
		r.log.Error().Err(err).Str("artifact_key", e.ArtifactKey).Msg("Failed to sign display URL")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to generate receipt URL")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"displayUrl": url,
	})
}

func (r *ReceiptsHandler) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	writeDomainError(w, r.log, err, fallback)
}

// ExpensesHandler handles expense CRUD endpoints.
type ExpensesHandler struct {
	svc   ExpenseService
	store ArtifactStore
	log   zerolog.Logger
}

// NewExpensesHandler creates a new expenses handler.
func NewExpensesHandler(svc ExpenseService, store ArtifactStore, log zerolog.Logger) *ExpensesHandler {
	return &ExpensesHandler{
		svc:   svc,
		store: store,
		log:   log,
	}
}

// List handles GET /api/expenses
//
// Optional "from" and "to" query parameters (YYYY-MM-DD) bound the expense
// dates. Results are newest first.
func (h *ExpensesHandler) List(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	ownerID := middleware.OwnerFromContext(ctx)

	var from, to civil.Date
	if v := req.URL.Query().Get("from"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD")
			return
		}
		from = d
	}
	if v := req.URL.Query().Get("to"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD")
			return
		}
		to = d
	}

	expenses, err := h.svc.List(ctx, ownerID, from, to)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list expenses")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list expenses")
		return
	}
	if expenses == nil {
		expenses = []*expense.Expense{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"expenses": expenses,
		"count":    len(expenses),
	})
}

type expenseBody struct {
	Vendor      *string  `json:"vendor"`
	Amount      *float64 `json:"amount"`
	Date        *string  `json:"date"`
	Category    *string  `json:"category"`
	ArtifactKey *string  `json:"artifactKey"`
}

// Add handles POST /api/expenses
//
// The body is JSON and must reference an already stored receipt artifact.
func (h *ExpensesHandler) Add(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	ownerID := middleware.OwnerFromContext(ctx)

	var body expenseBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	f := expense.Fields{Owner: ownerID}
	if body.Vendor != nil {
		f.Vendor = *body.Vendor
	}
	if body.Amount != nil {
		f.Amount = *body.Amount
	}
	if body.Category != nil {
		f.Category = expense.Category(*body.Category)
	}
	if body.ArtifactKey != nil {
		f.ArtifactKey = *body.ArtifactKey
	}
	if body.Date != nil {
		d, err := civil.ParseDate(*body.Date)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
			return
		}
		f.Date = d
	}

	e, err := h.svc.Create(ctx, f)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to add expense")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Expense added successfully",
		"expense": e,
	})
}

// Update handles PUT /api/expenses/:id
//
// A JSON body patches fields in place. A multipart body may additionally
// carry a replacement receipt image under "receipt"; the replacement is
// stored first and the previous artifact is removed only after the row is
// saved.
func (h *ExpensesHandler) Update(w http.ResponseWriter, req *http.Request, expenseID string) {
	ctx := req.Context()
	ownerID := middleware.OwnerFromContext(ctx)

	var patch expense.Patch
	var err error

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		patch, err = h.multipartPatch(ctx, req, ownerID)
	} else {
		patch, err = jsonPatch(req)
	}
	if err != nil {
		writeDomainError(w, h.log, err, "Invalid update request")
		return
	}

	e, err := h.svc.Update(ctx, expenseID, ownerID, patch)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to update expense")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Expense updated successfully",
		"expense": e,
	})
}

// Delete handles DELETE /api/expenses/:id
func (h *ExpensesHandler) Delete(w http.ResponseWriter, req *http.Request, expenseID string) {
	ctx := req.Context()
	ownerID := middleware.OwnerFromContext(ctx)

	if err := h.svc.Delete(ctx, expenseID, ownerID); err != nil {
		writeDomainError(w, h.log, err, "Failed to delete expense")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Expense deleted successfully",
	})
}

func jsonPatch(req *http.Request) (expense.Patch, error) {
	var body expenseBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return expense.Patch{}, &badRequestError{msg: "Invalid request body"}
	}

	var p expense.Patch
	p.Vendor = body.Vendor
	p.Amount = body.Amount
	if body.Category != nil {
		c := expense.Category(*body.Category)
		p.Category = &c
	}
	if body.Date != nil {
		d, err := civil.ParseDate(*body.Date)
		if err != nil {
			return expense.Patch{}, &badRequestError{msg: "Invalid date, expected YYYY-MM-DD"}
		}
		p.Date = &d
	}
	return p, nil
}

// multipartPatch parses form fields and, when a replacement receipt is
// attached, stores it before the row update runs.
func (h *ExpensesHandler) multipartPatch(ctx context.Context, req *http.Request, ownerID string) (expense.Patch, error) {
	if err := req.ParseMultipartForm(maxReceiptBytes); err != nil {
		return expense.Patch{}, &badRequestError{msg: "Invalid multipart form"}
	}

	var p expense.Patch
	if v := req.FormValue("vendor"); v != "" {
		p.Vendor = &v
	}
	if v := req.FormValue("amount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return expense.Patch{}, &badRequestError{msg: "Invalid amount"}
		}
		p.Amount = &amount
	}
	if v := req.FormValue("category"); v != "" {
		c := expense.Category(v)
		p.Category = &c
	}
	if v := req.FormValue("date"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			return expense.Patch{}, &badRequestError{msg: "Invalid date, expected YYYY-MM-DD"}
		}
		p.Date = &d
	}

	file, header, err := req.FormFile("receipt")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return p, nil
		}
		return expense.Patch{}, &badRequestError{msg: "Failed to read receipt file"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes+1))
	if err != nil {
		return expense.Patch{}, &badRequestError{msg: "Failed to read receipt file"}
	}
	if len(data) > maxReceiptBytes {
		return expense.Patch{}, &badRequestError{msg: "Receipt file is too large"}
	}

	key, err := h.store.Put(ctx, ownerID, data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		return expense.Patch{}, err
	}
	p.ArtifactKey = &key
	return p, nil
}

// parseOverrides reads optional manual fields from the upload form.
func parseOverrides(req *http.Request) (pipeline.Overrides, error) {
	var o pipeline.Overrides

	if v := req.FormValue("vendor"); v != "" {
		o.Vendor = &v
	}
	if v := req.FormValue("amount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pipeline.Overrides{}, errors.New("Invalid amount")
		}
		o.Amount = &amount
	}
	if v := req.FormValue("category"); v != "" {
		c := expense.Category(v)
		if !expense.ValidCategory(c) {
			return pipeline.Overrides{}, fmt.Errorf("Invalid category %q", v)
		}
		o.Category = &c
	}
	if v := req.FormValue("date"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			return pipeline.Overrides{}, errors.New("Invalid date, expected YYYY-MM-DD")
		}
		o.Date = &d
	}
	return o, nil
}

// badRequestError marks handler-level input problems that map to 400.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// writeDomainError maps pipeline and expense errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, err error, fallback string) {
	var validationErr *expense.ValidationError
	var badReq *badRequestError

	switch {
	case errors.As(err, &badReq):
		middleware.WriteError(w, http.StatusBadRequest, badReq.msg)
	case errors.Is(err, storage.ErrRejectedInput):
		middleware.WriteError(w, http.StatusBadRequest, "Only png and jpeg receipt images are accepted")
	case errors.Is(err, ocr.ErrNoTextFound):
		middleware.WriteError(w, http.StatusBadRequest, "Could not read text from the receipt")
	case errors.As(err, &validationErr):
		middleware.WriteError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, expense.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Expense not found")
	default:
		log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}
