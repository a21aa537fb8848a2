package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"medtracker/alerts"
	"medtracker/dbtypes"
	"medtracker/schedule"

	"cloud.google.com/go/civil"
)

// doseView is the wire form of a dose instance.
type doseView struct {
	RegimenID  string            `json:"regimenId"`
	Name       string            `json:"name"`
	Dose       string            `json:"dose"`
	Date       civil.Date        `json:"date"`
	Time       dbtypes.ClockTime `json:"time"`
	Status     string            `json:"status"`
	SkipReason string            `json:"skipReason,omitempty"`
}

func newDoseView(d *schedule.DoseInstance) *doseView {
	v := &doseView{
		RegimenID: d.Regimen.ID,
		Name:      d.Regimen.Name,
		Dose:      d.Regimen.Dose,
		Date:      d.Date,
		Time:      d.Time,
		Status:    d.Status.String(),
	}
	if d.Record != nil {
		v.SkipReason = d.Record.SkipReason
	}
	return v
}

type scheduleResponse struct {
	Date    civil.Date       `json:"date"`
	Doses   []*doseView      `json:"doses"`
	Pending []*doseView      `json:"pending"`
	Next    *doseView        `json:"next"`
	Summary schedule.Summary `json:"summary"`
}

// doseRequest names one dose of the requesting user.
type doseRequest struct {
	RegimenID string            `json:"regimenId"`
	Date      civil.Date        `json:"date"`
	Time      dbtypes.ClockTime `json:"time"`
	Reason    string            `json:"reason,omitempty"`
}

func (d *doseRequest) key(user string) dbtypes.DoseKey {
	return dbtypes.DoseKey{UserID: user, RegimenID: d.RegimenID, Date: d.Date, Time: d.Time}
}

type batchRequest struct {
	Doses []*doseRequest `json:"doses"`
}

type inventoryRequest struct {
	Delta int64 `json:"delta"`
}

type refillRequest struct {
	Quantity  int64       `json:"quantity"`
	ExpiresOn *civil.Date `json:"expiresOn,omitempty"`
}

func (u *WebUI) registerAPI(m *http.ServeMux) {
	m.HandleFunc("GET /api/schedule", u.api(u.getSchedule))
	m.HandleFunc("GET /api/next-dose", u.api(u.getNextDose))
	m.HandleFunc("POST /api/mark-taken", u.api(u.postMarkTaken))
	m.HandleFunc("POST /api/mark-taken-batch", u.api(u.postMarkTakenBatch))
	m.HandleFunc("POST /api/mark-skipped", u.api(u.postMarkSkipped))
	m.HandleFunc("POST /api/unmark", u.api(u.postUnmark))
	m.HandleFunc("GET /api/alerts", u.api(u.getAlerts))
	m.HandleFunc("GET /api/regimens", u.api(u.getRegimens))
	m.HandleFunc("POST /api/regimens", u.api(u.postRegimen))
	m.HandleFunc("GET /api/regimens/{id}", u.api(u.getRegimen))
	m.HandleFunc("PUT /api/regimens/{id}", u.api(u.putRegimen))
	m.HandleFunc("POST /api/regimens/{id}/deactivate", u.api(u.postDeactivate))
	m.HandleFunc("POST /api/regimens/{id}/inventory", u.api(u.postInventory))
	m.HandleFunc("POST /api/regimens/{id}/refill", u.api(u.postRefill))
}

// apiFunc handles one JSON API call on behalf of user.  The returned value is
// written as the JSON response body.
type apiFunc func(r *http.Request, user string) (any, error)

func (u *WebUI) api(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := u.activeUser(r)
		if user == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no authenticated user"})
			return
		}

		out, err := fn(r, user)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				slog.ErrorContext(r.Context(), "API call failed", slog.String("path", r.URL.Path), slog.String("user", user), slog.Any("err", err))
				writeJSON(w, status, errorResponse{Error: "internal error"})
				return
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks a request body that could not be decoded.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, dbtypes.ErrValidation), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, dbtypes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dbtypes.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// It's too late to write an error to the HTTP response.
		slog.Error("Error while writing JSON response", slog.Any("err", err))
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: while decoding request body: %v", errBadRequest, err)
	}
	return nil
}

func (u *WebUI) getSchedule(r *http.Request, user string) (any, error) {
	day, err := u.dayParam(r)
	if err != nil {
		return nil, err
	}
	sched, err := u.tracker.Schedule(r.Context(), user, day, u.now())
	if err != nil {
		return nil, err
	}

	resp := &scheduleResponse{
		Date:    sched.Date,
		Doses:   []*doseView{},
		Pending: []*doseView{},
		Summary: sched.Summary,
	}
	for _, d := range sched.Doses {
		resp.Doses = append(resp.Doses, newDoseView(d))
	}
	for _, d := range sched.Pending {
		resp.Pending = append(resp.Pending, newDoseView(d))
	}
	if sched.Next != nil {
		resp.Next = newDoseView(sched.Next)
	}
	return resp, nil
}

func (u *WebUI) getNextDose(r *http.Request, user string) (any, error) {
	day, err := u.dayParam(r)
	if err != nil {
		return nil, err
	}
	next, err := u.tracker.NextDose(r.Context(), user, day, u.now())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return struct {
			Next *doseView `json:"next"`
		}{}, nil
	}
	return struct {
		Next *doseView `json:"next"`
	}{Next: newDoseView(next)}, nil
}

func (u *WebUI) postMarkTaken(r *http.Request, user string) (any, error) {
	req := &doseRequest{}
	if err := decode(r, req); err != nil {
		return nil, err
	}
	return u.tracker.MarkTaken(r.Context(), req.key(user))
}

func (u *WebUI) postMarkTakenBatch(r *http.Request, user string) (any, error) {
	req := &batchRequest{}
	if err := decode(r, req); err != nil {
		return nil, err
	}
	keys := make([]dbtypes.DoseKey, 0, len(req.Doses))
	for _, d := range req.Doses {
		keys = append(keys, d.key(user))
	}
	recs, err := u.tracker.MarkTakenBatch(r.Context(), keys)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*dbtypes.AdherenceRecord{}
	}
	return recs, nil
}

func (u *WebUI) postMarkSkipped(r *http.Request, user string) (any, error) {
	req := &doseRequest{}
	if err := decode(r, req); err != nil {
		return nil, err
	}
	return u.tracker.MarkSkipped(r.Context(), req.key(user), req.Reason)
}

func (u *WebUI) postUnmark(r *http.Request, user string) (any, error) {
	req := &doseRequest{}
	if err := decode(r, req); err != nil {
		return nil, err
	}
	if err := u.tracker.Unmark(r.Context(), req.key(user)); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (u *WebUI) getAlerts(r *http.Request, user string) (any, error) {
	report, err := u.tracker.Alerts(r.Context(), user, u.now().Date)
	if err != nil {
		return nil, err
	}
	return alertsResponse(report), nil
}

type lowStockView struct {
	RegimenID string `json:"regimenId"`
	Name      string `json:"name"`
	Remaining int64  `json:"remaining"`
	Total     int64  `json:"total,omitempty"`
}

type nearExpiryView struct {
	RegimenID string     `json:"regimenId"`
	Name      string     `json:"name"`
	ExpiresOn civil.Date `json:"expiresOn"`
	DaysLeft  int        `json:"daysLeft"`
}

func alertsResponse(report *alerts.Report) any {
	resp := struct {
		LowStock   []*lowStockView   `json:"lowStock"`
		NearExpiry []*nearExpiryView `json:"nearExpiry"`
	}{
		LowStock:   []*lowStockView{},
		NearExpiry: []*nearExpiryView{},
	}
	for _, a := range report.LowStock {
		resp.LowStock = append(resp.LowStock, &lowStockView{
			RegimenID: a.Regimen.ID,
			Name:      a.Regimen.Name,
			Remaining: a.Remaining,
			Total:     a.Total,
		})
	}
	for _, a := range report.NearExpiry {
		resp.NearExpiry = append(resp.NearExpiry, &nearExpiryView{
			RegimenID: a.Regimen.ID,
			Name:      a.Regimen.Name,
			ExpiresOn: a.ExpiresOn,
			DaysLeft:  a.DaysLeft,
		})
	}
	return resp
}

// getRegimens lists the regimens active today, or every regimen with
// ?all=true.
func (u *WebUI) getRegimens(r *http.Request, user string) (any, error) {
	var (
		regimens []*dbtypes.Regimen
		err      error
	)
	if r.FormValue("all") == "true" {
		regimens, err = u.tracker.Catalog().ListRegimens(r.Context(), user)
	} else {
		regimens, err = u.tracker.Catalog().ListActiveRegimens(r.Context(), user, u.now().Date)
	}
	if err != nil {
		return nil, err
	}
	if regimens == nil {
		regimens = []*dbtypes.Regimen{}
	}
	return regimens, nil
}

func (u *WebUI) postRegimen(r *http.Request, user string) (any, error) {
	def := &dbtypes.Regimen{}
	if err := decode(r, def); err != nil {
		return nil, err
	}
	def.UserID = user
	return u.tracker.Catalog().CreateRegimen(r.Context(), def)
}

func (u *WebUI) getRegimen(r *http.Request, user string) (any, error) {
	return u.tracker.Catalog().GetRegimen(r.Context(), user, r.PathValue("id"))
}

func (u *WebUI) putRegimen(r *http.Request, user string) (any, error) {
	def := &dbtypes.Regimen{}
	if err := decode(r, def); err != nil {
		return nil, err
	}
	def.UserID = user
	def.ID = r.PathValue("id")
	return u.tracker.Catalog().UpdateRegimen(r.Context(), def)
}

func (u *WebUI) postDeactivate(r *http.Request, user string) (any, error) {
	if err := u.tracker.Catalog().DeactivateRegimen(r.Context(), user, r.PathValue("id")); err != nil {
		return nil, err
	}
	return u.tracker.Catalog().GetRegimen(r.Context(), user, r.PathValue("id"))
}

func (u *WebUI) postInventory(r *http.Request, user string) (any, error) {
	req := &inventoryRequest{}
	if err := decode(r, req); err != nil {
		return nil, err
	}
	return u.tracker.Catalog().AdjustInventory(r.Context(), user, r.PathValue("id"), req.Delta)
}

func (u *WebUI) postRefill(r *http.Request, user string) (any, error) {
	req := &refillRequest{}
	if err := decode(r, req); err != nil {
		return nil, err
	}
	return u.tracker.Catalog().RecordRefill(r.Context(), user, r.PathValue("id"), req.Quantity, req.ExpiresOn)
}
