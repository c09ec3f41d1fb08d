package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"shiftledger/backend/internal/domain"
)

const shiftsPrefix = "/api/v1/shifts/"

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.OpenShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var resp domain.ShiftResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.OpenShift(r.Context(), req)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	shift, err := a.service.GetOpenShiftForRegister(r.Context(), query.Get("company_id"), query.Get("branch_id"), query.Get("register_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// handleShiftActions serves /api/v1/shifts/{id} and /api/v1/shifts/{id}/{action}.
func (a *API) handleShiftActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, shiftsPrefix), "/")
	shiftID, action, _ := strings.Cut(rest, "/")
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid shift path"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		shift, err := a.service.GetShift(r.Context(), shiftID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shift)
	case "suspend":
		a.handleShiftSuspend(w, r, shiftID)
	case "resume":
		a.handleShiftResume(w, r, shiftID)
	case "close":
		a.handleShiftClose(w, r, shiftID)
	case "close-preview":
		a.handleShiftClosePreview(w, r, shiftID)
	case "review":
		a.handleShiftReview(w, r, shiftID)
	case "transactions":
		a.handleShiftTransactions(w, r, shiftID)
	case "cash-drops":
		a.handleCashDrops(w, r, shiftID)
	case "adjustments":
		a.handleCashAdjustments(w, r, shiftID)
	case "account-movements":
		a.handleAccountMovements(w, r, shiftID)
	case "transfers":
		a.handleTransfers(w, r, shiftID)
	case "report":
		a.handleShiftReport(w, r, shiftID)
	case "audit-logs":
		a.handleAuditLogs(w, r, shiftID)
	case "events":
		a.handleShiftEvents(w, r, shiftID)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown shift action"))
	}
}

func (a *API) handleShiftSuspend(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.SuspendShiftRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ShiftID = shiftID

	var resp domain.ShiftResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.SuspendShift(r.Context(), req)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftResume(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var resp domain.ShiftResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.ResumeShift(r.Context(), shiftID)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleShiftClose requires the manager PIN when the request names an approver.
func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CloseShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ShiftID = shiftID

	if strings.TrimSpace(req.ApprovedBy) != "" {
		if !a.pinLimiter.Allow("pin:close:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
			return
		}
	}
	req.ManagerPIN = ""

	var resp domain.ShiftResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.CloseShift(r.Context(), req)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftClosePreview(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CloseShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ShiftID = shiftID
	req.ManagerPIN = ""

	resp, err := a.service.PreviewClose(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftReview(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, "manager", "admin") {
		return
	}
	var req domain.ReviewShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ShiftID = shiftID

	var resp domain.ShiftResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.ReviewShift(r.Context(), req)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftTransactions(w http.ResponseWriter, r *http.Request, shiftID string) {
	switch r.Method {
	case http.MethodGet:
		includeVoided := strings.EqualFold(r.URL.Query().Get("include_voided"), "true")
		transactions, err := a.service.ListShiftTransactions(r.Context(), shiftID, includeVoided)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": transactions})
	case http.MethodPost:
		var req domain.RecordTransactionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.ShiftID = shiftID
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}

		var resp domain.TransactionResponse
		err := a.mutate(r.Context(), func() (err error) {
			resp, err = a.service.RecordTransaction(r.Context(), req)
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCashDrops(w http.ResponseWriter, r *http.Request, shiftID string) {
	switch r.Method {
	case http.MethodGet:
		drops, err := a.service.ListCashDrops(r.Context(), shiftID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": drops})
	case http.MethodPost:
		var req domain.CashDropRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.ShiftID = shiftID

		var resp domain.CashDropResponse
		err := a.mutate(r.Context(), func() (err error) {
			resp, err = a.service.PerformCashDrop(r.Context(), req)
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCashAdjustments(w http.ResponseWriter, r *http.Request, shiftID string) {
	switch r.Method {
	case http.MethodGet:
		adjustments, err := a.service.ListCashAdjustments(r.Context(), shiftID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": adjustments})
	case http.MethodPost:
		var req domain.CashAdjustmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.ShiftID = shiftID

		var resp domain.CashAdjustmentResponse
		err := a.mutate(r.Context(), func() (err error) {
			resp, err = a.service.RecordCashAdjustment(r.Context(), req)
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAccountMovements(w http.ResponseWriter, r *http.Request, shiftID string) {
	switch r.Method {
	case http.MethodGet:
		movements, err := a.service.ListAccountMovements(r.Context(), shiftID, r.URL.Query().Get("account_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": movements})
	case http.MethodPost:
		var req domain.AccountMovementRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.ShiftID = shiftID

		var resp domain.AccountMovementResponse
		err := a.mutate(r.Context(), func() (err error) {
			resp, err = a.service.RecordAccountMovement(r.Context(), req)
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ShiftID = shiftID

	var resp domain.TransferResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.TransferBetweenAccounts(r.Context(), req)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftReport(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.ShiftReport(r.Context(), shiftID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, "manager", "admin") {
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), shiftID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// handleTransactionActions serves POST /api/v1/transactions/{id}/void, which
// needs the manager PIN.
func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/transactions/"
	if !strings.HasPrefix(r.URL.Path, prefix) || !strings.HasSuffix(r.URL.Path, "/void") {
		writeError(w, http.StatusBadRequest, errors.New("invalid transaction action path"))
		return
	}
	transactionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/void")
	transactionID = strings.TrimSpace(strings.Trim(transactionID, "/"))
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("transaction id required"))
		return
	}

	var req domain.VoidTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:void:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}
	req.TransactionID = transactionID
	req.ManagerPIN = ""
	if strings.TrimSpace(req.ApprovedBy) == "" {
		req.ApprovedBy = "manager_pin"
	}

	var resp domain.TransactionResponse
	err := a.mutate(r.Context(), func() (err error) {
		resp, err = a.service.VoidTransaction(r.Context(), req)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
