package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/expense"
	"github.com/dvloznov/expense-tracker/internal/ocr"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/dvloznov/expense-tracker/internal/storage"
)

type fakeIngester struct {
	ingestFunc func(ctx context.Context, in pipeline.Input) (*expense.Expense, error)
	lastInput  pipeline.Input
}

func (f *fakeIngester) Ingest(ctx context.Context, in pipeline.Input) (*expense.Expense, error) {
	f.lastInput = in
	return f.ingestFunc(ctx, in)
}

type fakeService struct {
	createFunc func(ctx context.Context, f expense.Fields) (*expense.Expense, error)
	getFunc    func(ctx context.Context, id, ownerID string) (*expense.Expense, error)
	listFunc   func(ctx context.Context, ownerID string, from, to civil.Date) ([]*expense.Expense, error)
	updateFunc func(ctx context.Context, id, ownerID string, p expense.Patch) (*expense.Expense, error)
	deleteFunc func(ctx context.Context, id, ownerID string) error
}

func (f *fakeService) Create(ctx context.Context, fields expense.Fields) (*expense.Expense, error) {
	return f.createFunc(ctx, fields)
}

func (f *fakeService) Get(ctx context.Context, id, ownerID string) (*expense.Expense, error) {
	return f.getFunc(ctx, id, ownerID)
}

func (f *fakeService) List(ctx context.Context, ownerID string, from, to civil.Date) ([]*expense.Expense, error) {
	return f.listFunc(ctx, ownerID, from, to)
}

func (f *fakeService) Update(ctx context.Context, id, ownerID string, p expense.Patch) (*expense.Expense, error) {
	return f.updateFunc(ctx, id, ownerID, p)
}

func (f *fakeService) Delete(ctx context.Context, id, ownerID string) error {
	return f.deleteFunc(ctx, id, ownerID)
}

type fakeStore struct {
	putFunc  func(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error)
	signFunc func(ctx context.Context, key string, profile storage.URLProfile) (string, error)
}

func (f *fakeStore) Put(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error) {
	return f.putFunc(ctx, ownerID, data, filename, contentType)
}

func (f *fakeStore) SignedURL(ctx context.Context, key string, profile storage.URLProfile) (string, error) {
	return f.signFunc(ctx, key, profile)
}

func sampleExpense() *expense.Expense {
	return &expense.Expense{
		ID:          "exp-1",
		Owner:       "owner-1",
		Vendor:      "Mart Store",
		Amount:      42.50,
		Date:        civil.Date{Year: 2026, Month: 8, Day: 31},
		Category:    expense.CategoryFood,
		ArtifactKey: "receipts/owner-1/receipt-1-abc.jpg",
	}
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("writing form field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("receipt", filename)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("writing form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func ownedRequest(method, target string, body *bytes.Buffer, contentType, ownerID string) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req.WithContext(middleware.ContextWithOwner(req.Context(), ownerID))
}

func TestProcessReceipt(t *testing.T) {
	ing := &fakeIngester{
		ingestFunc: func(ctx context.Context, in pipeline.Input) (*expense.Expense, error) {
			return sampleExpense(), nil
		},
	}
	h := NewReceiptsHandler(ing, &fakeService{}, &fakeStore{}, zerolog.Nop())

	body, contentType := multipartUpload(t, map[string]string{"vendor": "Corner Cafe"}, "receipt.jpg", []byte("img"))
	req := ownedRequest(http.MethodPost, "/api/receipts/process", body, contentType, "owner-1")
	rec := httptest.NewRecorder()

	h.ProcessReceipt(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if ing.lastInput.OwnerID != "owner-1" {
		t.Errorf("owner = %q, want owner-1", ing.lastInput.OwnerID)
	}
	if ing.lastInput.Filename != "receipt.jpg" {
		t.Errorf("filename = %q, want receipt.jpg", ing.lastInput.Filename)
	}
	if ing.lastInput.Overrides.Vendor == nil || *ing.lastInput.Overrides.Vendor != "Corner Cafe" {
		t.Errorf("vendor override not forwarded: %+v", ing.lastInput.Overrides)
	}

	var resp struct {
		Message string           `json:"message"`
		Expense *expense.Expense `json:"expense"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Expense == nil || resp.Expense.ID != "exp-1" {
		t.Errorf("expense = %+v, want exp-1", resp.Expense)
	}
}

func TestProcessReceipt_MissingFile(t *testing.T) {
	h := NewReceiptsHandler(&fakeIngester{}, &fakeService{}, &fakeStore{}, zerolog.Nop())

	body, contentType := multipartUpload(t, map[string]string{"vendor": "X"}, "", nil)
	req := ownedRequest(http.MethodPost, "/api/receipts/process", body, contentType, "owner-1")
	rec := httptest.NewRecorder()

	h.ProcessReceipt(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestProcessReceipt_InvalidOverrides(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"bad amount", map[string]string{"amount": "twelve"}},
		{"bad category", map[string]string{"category": "Groceries"}},
		{"bad date", map[string]string{"date": "31-08-2026"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewReceiptsHandler(&fakeIngester{}, &fakeService{}, &fakeStore{}, zerolog.Nop())

			body, contentType := multipartUpload(t, tt.fields, "receipt.jpg", []byte("img"))
			req := ownedRequest(http.MethodPost, "/api/receipts/process", body, contentType, "owner-1")
			rec := httptest.NewRecorder()

			h.ProcessReceipt(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestProcessReceipt_PipelineErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"rejected input", fmt.Errorf("ingest: storing receipt: %w", storage.ErrRejectedInput), http.StatusBadRequest, "Only png and jpeg receipt images are accepted"},
		{"no text", fmt.Errorf("ingest: recognizing text: %w", ocr.ErrNoTextFound), http.StatusBadRequest, "Could not read text from the receipt"},
		{"validation", &expense.ValidationError{Fields: map[string]string{"amount": "must not be negative"}}, http.StatusBadRequest, "amount"},
		{"other failure", fmt.Errorf("ingest: saving expense: boom"), http.StatusInternalServerError, "Failed to process receipt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{
				ingestFunc: func(ctx context.Context, in pipeline.Input) (*expense.Expense, error) {
					return nil, tt.err
				},
			}
			h := NewReceiptsHandler(ing, &fakeService{}, &fakeStore{}, zerolog.Nop())

			body, contentType := multipartUpload(t, nil, "receipt.jpg", []byte("img"))
			req := ownedRequest(http.MethodPost, "/api/receipts/process", body, contentType, "owner-1")
			rec := httptest.NewRecorder()

			h.ProcessReceipt(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body %q does not mention %q", rec.Body.String(), tt.wantMsg)
			}
		})
	}
}

func TestReceiptURL(t *testing.T) {
	var signedProfile storage.URLProfile
	svc := &fakeService{
		getFunc: func(ctx context.Context, id, ownerID string) (*expense.Expense, error) {
			if id != "exp-1" || ownerID != "owner-1" {
				t.Errorf("get(%q, %q), want (exp-1, owner-1)", id, ownerID)
			}
			return sampleExpense(), nil
		},
	}
	store := &fakeStore{
		signFunc: func(ctx context.Context, key string, profile storage.URLProfile) (string, error) {
			signedProfile = profile
			return "https://signed.example/" + key, nil
		},
	}
	h := NewReceiptsHandler(&fakeIngester{}, svc, store, zerolog.Nop())

	req := ownedRequest(http.MethodGet, "/api/receipts/exp-1/url", nil, "", "owner-1")
	rec := httptest.NewRecorder()

	h.ReceiptURL(rec, req, "exp-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if signedProfile.Disposition != storage.ProfileInlineDisplay.Disposition {
		t.Errorf("signed with profile %+v, want inline display", signedProfile)
	}
	if !strings.Contains(rec.Body.String(), "displayUrl") {
		t.Errorf("body %q missing displayUrl", rec.Body.String())
	}
}

func TestReceiptURL_NotFound(t *testing.T) {
	svc := &fakeService{
		getFunc: func(ctx context.Context, id, ownerID string) (*expense.Expense, error) {
			return nil, expense.ErrNotFound
		},
	}
	h := NewReceiptsHandler(&fakeIngester{}, svc, &fakeStore{}, zerolog.Nop())

	req := ownedRequest(http.MethodGet, "/api/receipts/missing/url", nil, "", "owner-1")
	rec := httptest.NewRecorder()

	h.ReceiptURL(rec, req, "missing")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListExpenses_DateBounds(t *testing.T) {
	var gotFrom, gotTo civil.Date
	svc := &fakeService{
		listFunc: func(ctx context.Context, ownerID string, from, to civil.Date) ([]*expense.Expense, error) {
			gotFrom, gotTo = from, to
			return []*expense.Expense{sampleExpense()}, nil
		},
	}
	h := NewExpensesHandler(svc, &fakeStore{}, zerolog.Nop())

	req := ownedRequest(http.MethodGet, "/api/expenses?from=2026-08-01&to=2026-08-31", nil, "", "owner-1")
	rec := httptest.NewRecorder()

	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotFrom.String() != "2026-08-01" || gotTo.String() != "2026-08-31" {
		t.Errorf("bounds = %s..%s, want 2026-08-01..2026-08-31", gotFrom, gotTo)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestListExpenses_InvalidDate(t *testing.T) {
	h := NewExpensesHandler(&fakeService{}, &fakeStore{}, zerolog.Nop())

	req := ownedRequest(http.MethodGet, "/api/expenses?from=yesterday", nil, "", "owner-1")
	rec := httptest.NewRecorder()

	h.List(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAddExpense(t *testing.T) {
	var gotFields expense.Fields
	svc := &fakeService{
		createFunc: func(ctx context.Context, f expense.Fields) (*expense.Expense, error) {
			gotFields = f
			return sampleExpense(), nil
		},
	}
	h := NewExpensesHandler(svc, &fakeStore{}, zerolog.Nop())

	body := bytes.NewBufferString(`{"vendor":"Mart Store","amount":42.5,"date":"2026-08-31","category":"Food","artifactKey":"receipts/owner-1/receipt-1-abc.jpg"}`)
	req := ownedRequest(http.MethodPost, "/api/expenses", body, "application/json", "owner-1")
	rec := httptest.NewRecorder()

	h.Add(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if gotFields.Owner != "owner-1" {
		t.Errorf("owner = %q, want owner-1", gotFields.Owner)
	}
	if gotFields.Vendor != "Mart Store" || gotFields.Amount != 42.5 {
		t.Errorf("fields = %+v", gotFields)
	}
}

func TestAddExpense_ValidationFailure(t *testing.T) {
	svc := &fakeService{
		createFunc: func(ctx context.Context, f expense.Fields) (*expense.Expense, error) {
			return nil, &expense.ValidationError{Fields: map[string]string{"vendor": "is required"}}
		},
	}
	h := NewExpensesHandler(svc, &fakeStore{}, zerolog.Nop())

	body := bytes.NewBufferString(`{"amount":10}`)
	req := ownedRequest(http.MethodPost, "/api/expenses", body, "application/json", "owner-1")
	rec := httptest.NewRecorder()

	h.Add(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "vendor") {
		t.Errorf("body %q does not name the failing field", rec.Body.String())
	}
}

func TestUpdateExpense_JSONPatch(t *testing.T) {
	var gotPatch expense.Patch
	svc := &fakeService{
		updateFunc: func(ctx context.Context, id, ownerID string, p expense.Patch) (*expense.Expense, error) {
			gotPatch = p
			return sampleExpense(), nil
		},
	}
	h := NewExpensesHandler(svc, &fakeStore{}, zerolog.Nop())

	body := bytes.NewBufferString(`{"vendor":"New Vendor","amount":12.34}`)
	req := ownedRequest(http.MethodPut, "/api/expenses/exp-1", body, "application/json", "owner-1")
	rec := httptest.NewRecorder()

	h.Update(rec, req, "exp-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotPatch.Vendor == nil || *gotPatch.Vendor != "New Vendor" {
		t.Errorf("vendor patch = %v", gotPatch.Vendor)
	}
	if gotPatch.Amount == nil || *gotPatch.Amount != 12.34 {
		t.Errorf("amount patch = %v", gotPatch.Amount)
	}
	if gotPatch.ArtifactKey != nil {
		t.Errorf("unexpected artifact patch %v", gotPatch.ArtifactKey)
	}
}

func TestUpdateExpense_ReplacementReceiptStoredFirst(t *testing.T) {
	const newKey = "receipts/owner-1/receipt-2-def.jpg"

	putDone := false
	store := &fakeStore{
		putFunc: func(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error) {
			putDone = true
			return newKey, nil
		},
	}
	svc := &fakeService{
		updateFunc: func(ctx context.Context, id, ownerID string, p expense.Patch) (*expense.Expense, error) {
			if !putDone {
				t.Error("update ran before the replacement artifact was stored")
			}
			if p.ArtifactKey == nil || *p.ArtifactKey != newKey {
				t.Errorf("artifact patch = %v, want %q", p.ArtifactKey, newKey)
			}
			return sampleExpense(), nil
		},
	}
	h := NewExpensesHandler(svc, store, zerolog.Nop())

	body, contentType := multipartUpload(t, map[string]string{"vendor": "Replaced"}, "new.jpg", []byte("img2"))
	req := ownedRequest(http.MethodPut, "/api/expenses/exp-1", body, contentType, "owner-1")
	rec := httptest.NewRecorder()

	h.Update(rec, req, "exp-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestUpdateExpense_RejectedReplacement(t *testing.T) {
	store := &fakeStore{
		putFunc: func(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error) {
			return "", fmt.Errorf("storing receipt: %w", storage.ErrRejectedInput)
		},
	}
	svc := &fakeService{
		updateFunc: func(ctx context.Context, id, ownerID string, p expense.Patch) (*expense.Expense, error) {
			t.Error("update must not run when the replacement upload is rejected")
			return nil, nil
		},
	}
	h := NewExpensesHandler(svc, store, zerolog.Nop())

	body, contentType := multipartUpload(t, nil, "new.gif", []byte("img2"))
	req := ownedRequest(http.MethodPut, "/api/expenses/exp-1", body, contentType, "owner-1")
	rec := httptest.NewRecorder()

	h.Update(rec, req, "exp-1")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDeleteExpense(t *testing.T) {
	deleted := false
	svc := &fakeService{
		deleteFunc: func(ctx context.Context, id, ownerID string) error {
			deleted = true
			return nil
		},
	}
	h := NewExpensesHandler(svc, &fakeStore{}, zerolog.Nop())

	req := ownedRequest(http.MethodDelete, "/api/expenses/exp-1", nil, "", "owner-1")
	rec := httptest.NewRecorder()

	h.Delete(rec, req, "exp-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !deleted {
		t.Error("service delete was not called")
	}
}

func TestDeleteExpense_NotFound(t *testing.T) {
	svc := &fakeService{
		deleteFunc: func(ctx context.Context, id, ownerID string) error {
			return expense.ErrNotFound
		},
	}
	h := NewExpensesHandler(svc, &fakeStore{}, zerolog.Nop())

	req := ownedRequest(http.MethodDelete, "/api/expenses/missing", nil, "", "owner-1")
	rec := httptest.NewRecorder()

	h.Delete(rec, req, "missing")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
