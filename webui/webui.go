package webui

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"medtracker/dbtypes"
	"medtracker/tracker"
	"medtracker/webui/uitemplates"

	"cloud.google.com/go/civil"
	"github.com/golang/glog"
)

// IAPUserHeader carries the identity asserted by the Identity-Aware Proxy in
// front of the UI, e.g. "accounts.google.com:alice@example.com".
const IAPUserHeader = "X-Goog-Authenticated-User-Email"

type WebUI struct {
	tracker *tracker.Tracker

	// Dates and times of day are interpreted in this location.
	location *time.Location

	// When set, every request acts as this user and IAPUserHeader is ignored.
	devUser string
}

type Option func(*WebUI)

func WithLocation(loc *time.Location) Option {
	return func(u *WebUI) {
		u.location = loc
	}
}

func WithDevUser(email string) Option {
	return func(u *WebUI) {
		u.devUser = email
	}
}

func New(t *tracker.Tracker, opts ...Option) *WebUI {
	u := &WebUI{
		tracker:  t,
		location: time.UTC,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *WebUI) Register(m *http.ServeMux) {
	m.HandleFunc("GET /{$}", u.todayHandler)
	m.HandleFunc("POST /record-dose", u.recordDoseHandler)
	m.HandleFunc("GET /regimens", u.listRegimensHandler)
	m.HandleFunc("GET /record-refill", u.recordRefillGetHandler)
	m.HandleFunc("POST /record-refill", u.recordRefillPostHandler)

	u.registerAPI(m)
}

// activeUser returns the email of the person making the request, or "" when
// the request did not come through the proxy.
func (u *WebUI) activeUser(r *http.Request) string {
	if u.devUser != "" {
		return u.devUser
	}
	v := r.Header.Get(IAPUserHeader)
	if i := strings.LastIndex(v, ":"); i >= 0 {
		v = v[i+1:]
	}
	return strings.TrimSpace(v)
}

// now returns the current wall-clock moment in the UI's location.
func (u *WebUI) now() civil.DateTime {
	return civil.DateTimeOf(u.tracker.Now().In(u.location))
}

// dayParam reads the "date" parameter, defaulting to today.
func (u *WebUI) dayParam(r *http.Request) (civil.Date, error) {
	s := r.FormValue("date")
	if s == "" {
		return u.now().Date, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, &dbtypes.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return d, nil
}

func TodayLink(day civil.Date) string {
	q := url.Values{}
	q.Add("date", day.String())
	link := &url.URL{
		Path:     "/",
		RawQuery: q.Encode(),
	}
	return link.String()
}

func RecordRefillLink(regimenID string) string {
	q := url.Values{}
	q.Add("regimen-id", regimenID)
	link := &url.URL{
		Path:     "/record-refill",
		RawQuery: q.Encode(),
	}
	return link.String()
}

func (u *WebUI) todayHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := u.activeUser(r)
	if user == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	day, err := u.dayParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sched, err := u.tracker.Schedule(ctx, user, day, u.now())
	if err != nil {
		glog.Errorf("Error while loading schedule of %s for %v: %v", user, day, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	report, err := u.tracker.Alerts(ctx, user, u.now().Date)
	if err != nil {
		glog.Errorf("Error while computing alerts of %s: %v", user, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	params := &uitemplates.TodayParams{
		PageParams: uitemplates.PageParams{
			ActiveUser: uitemplates.ActiveUserParams{Email: user},
			UserError:  r.FormValue("user-error"),
		},
		Date:     day.String(),
		PrevLink: TodayLink(day.AddDays(-1)),
		NextLink: TodayLink(day.AddDays(1)),
		Taken:    sched.Summary.Taken,
		Skipped:  sched.Summary.Skipped,
		Pending:  sched.Summary.Pending,
		Upcoming: sched.Summary.Upcoming,
	}
	for _, d := range sched.Doses {
		params.Doses = append(params.Doses, todayDose(newDoseView(d)))
	}
	if sched.Next != nil {
		params.NextDose = todayDose(newDoseView(sched.Next))
	}
	for _, a := range report.LowStock {
		params.LowStock = append(params.LowStock, a.String())
	}
	for _, a := range report.NearExpiry {
		params.NearExpiry = append(params.NearExpiry, a.String())
	}

	render(w, uitemplates.TodayTemplate, params)
}

func todayDose(v *doseView) *uitemplates.TodayDose {
	return &uitemplates.TodayDose{
		RegimenID:  v.RegimenID,
		Name:       v.Name,
		Dose:       v.Dose,
		Date:       v.Date.String(),
		Time:       v.Time.String(),
		Status:     v.Status,
		SkipReason: v.SkipReason,
	}
}

// recordDoseHandler takes the form posted from a row of the today page.
func (u *WebUI) recordDoseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := u.activeUser(r)
	if user == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	key, err := formDoseKey(user, r.PostForm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.PostForm.Get("action") {
	case "taken":
		_, err = u.tracker.MarkTaken(ctx, key)
	case "skipped":
		_, err = u.tracker.MarkSkipped(ctx, key, r.PostForm.Get("reason"))
	case "unmark":
		err = u.tracker.Unmark(ctx, key)
	default:
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	back := TodayLink(key.Date)
	if err != nil {
		if !userFacing(err) {
			glog.Errorf("Error while recording dose %v: %v", key, err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		back = withUserError(back, err)
	}
	http.Redirect(w, r, back, http.StatusFound)
}

func formDoseKey(user string, form url.Values) (dbtypes.DoseKey, error) {
	day, err := civil.ParseDate(form.Get("date"))
	if err != nil {
		return dbtypes.DoseKey{}, fmt.Errorf("bad date %q", form.Get("date"))
	}
	clock, err := dbtypes.ParseClockTime(form.Get("time"))
	if err != nil {
		return dbtypes.DoseKey{}, fmt.Errorf("bad time %q", form.Get("time"))
	}
	return dbtypes.DoseKey{
		UserID:    user,
		RegimenID: form.Get("regimen-id"),
		Date:      day,
		Time:      clock,
	}, nil
}

func (u *WebUI) listRegimensHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := u.activeUser(r)
	if user == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	regimens, err := u.tracker.Catalog().ListRegimens(ctx, user)
	if err != nil {
		glog.Errorf("Error while listing regimens of %s: %v", user, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	today := u.now().Date
	params := &uitemplates.ListRegimensParams{
		PageParams: uitemplates.PageParams{
			ActiveUser: uitemplates.ActiveUserParams{Email: user},
			UserError:  r.FormValue("user-error"),
		},
	}
	for _, reg := range regimens {
		row := &uitemplates.ListRegimensRegimen{
			Name:             reg.Name,
			Kind:             string(reg.Kind),
			Dose:             reg.Dose,
			Days:             reg.Days.String(),
			Active:           reg.ActiveOn(today),
			RecordRefillLink: RecordRefillLink(reg.ID),
		}
		var times []string
		for _, t := range reg.Times {
			times = append(times, t.String())
		}
		row.Times = strings.Join(times, ", ")
		if inv := reg.Inventory; inv != nil {
			if inv.HasTotal() {
				row.Inventory = fmt.Sprintf("%d / %d", inv.Remaining, inv.Total)
			} else {
				row.Inventory = strconv.FormatInt(inv.Remaining, 10)
			}
			if inv.ExpiresOn != nil {
				row.ExpiresOn = inv.ExpiresOn.String()
			}
		}
		params.Regimens = append(params.Regimens, row)
	}

	render(w, uitemplates.ListRegimensTemplate, params)
}

func (u *WebUI) recordRefillGetHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := u.activeUser(r)
	if user == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	regimenID := r.FormValue("regimen-id")
	reg, err := u.tracker.Catalog().GetRegimen(ctx, user, regimenID)
	if errors.Is(err, dbtypes.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		glog.Errorf("Error while retrieving regimen %s: %v", regimenID, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	params := &uitemplates.RecordRefillParams{
		PageParams: uitemplates.PageParams{
			ActiveUser: uitemplates.ActiveUserParams{Email: user},
			UserError:  r.FormValue("user-error"),
		},
		RegimenID:   reg.ID,
		RegimenName: reg.Name,
		SelfLink:    RecordRefillLink(reg.ID),
	}
	render(w, uitemplates.RecordRefillTemplate, params)
}

func (u *WebUI) recordRefillPostHandler(w http.ResponseWriter, r *http.Request) {

	user := u.activeUser(r)
	if user == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	regimenID := r.PostForm.Get("regimen-id")
	err := u.doRecordRefill(r, user, regimenID)
	if err != nil {
		if !userFacing(err) {
			glog.Errorf("Error while recording refill of %s: %v", regimenID, err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, withUserError(RecordRefillLink(regimenID), err), http.StatusFound)
		return
	}

	http.Redirect(w, r, "/regimens", http.StatusFound)
}

func (u *WebUI) doRecordRefill(r *http.Request, user, regimenID string) error {
	quantity, err := strconv.ParseInt(r.PostForm.Get("quantity"), 10, 64)
	if err != nil {
		return &dbtypes.ValidationError{Field: "quantity", Reason: fmt.Sprintf("could not parse %q", r.PostForm.Get("quantity"))}
	}

	var expiresOn *civil.Date
	if s := r.PostForm.Get("expires-on"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			return &dbtypes.ValidationError{Field: "expiresOn", Reason: fmt.Sprintf("could not parse date %q", s)}
		}
		expiresOn = &d
	}

	_, err = u.tracker.Catalog().RecordRefill(r.Context(), user, regimenID, quantity, expiresOn)
	return err
}

// userFacing reports whether err is the user's mistake rather than ours.
func userFacing(err error) bool {
	return errors.Is(err, dbtypes.ErrValidation) || errors.Is(err, dbtypes.ErrNotFound) || errors.Is(err, dbtypes.ErrConflict)
}

func withUserError(link string, err error) string {
	parsed, perr := url.Parse(link)
	if perr != nil {
		return link
	}
	q := parsed.Query()
	q.Set("user-error", err.Error())
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func render(w http.ResponseWriter, tmpl *template.Template, params any) {
	content := bytes.Buffer{}
	if err := tmpl.Execute(&content, params); err != nil {
		glog.Errorf("Error while executing template: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	if _, err := io.Copy(w, &content); err != nil {
		// It's too late to write an error to the HTTP response.
		glog.Errorf("Error while writing output: %v", err)
		return
	}
}
