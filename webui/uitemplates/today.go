package uitemplates

type TodayParams struct {
	PageParams

	Date     string
	PrevLink string
	NextLink string

	NextDose *TodayDose
	Doses    []*TodayDose

	Taken    int
	Skipped  int
	Pending  int
	Upcoming int

	LowStock   []string
	NearExpiry []string
}

type TodayDose struct {
	RegimenID  string
	Name       string
	Dose       string
	Date       string
	Time       string
	Status     string
	SkipReason string
}

var todayText = `
{{define "title"}}Today: {{.Date}}{{end}}

{{define "breadcrumbs" -}}
  <li class="breadcrumb-item"><a href="{{.PrevLink}}">&laquo;</a></li>
  <li class="breadcrumb-item active" aria-current="page">{{.Date}}</li>
  <li class="breadcrumb-item"><a href="{{.NextLink}}">&raquo;</a></li>
{{- end}}

{{define "content"}}
{{if .NextDose}}
<div class="alert alert-primary" role="status">
  Next: <strong>{{.NextDose.Name}}</strong> {{.NextDose.Dose}} at {{.NextDose.Time}}
</div>
{{end}}

{{range .LowStock}}
<div class="alert alert-warning" role="alert">Low stock: {{.}}</div>
{{end}}
{{range .NearExpiry}}
<div class="alert alert-warning" role="alert">Expiring soon: {{.}}</div>
{{end}}

<p>{{.Taken}} taken, {{.Skipped}} skipped, {{.Pending}} pending, {{.Upcoming}} upcoming.</p>

<table class="table">
  <thead>
    <tr>
      <th>Time</th>
      <th>Regimen</th>
      <th>Dose</th>
      <th>Status</th>
      <th></th>
    </tr>
  </thead>
  <tbody>
    {{range .Doses}}
    <tr>
      <td>{{.Time}}</td>
      <td>{{.Name}}</td>
      <td>{{.Dose}}</td>
      <td>{{.Status}}{{if .SkipReason}} ({{.SkipReason}}){{end}}</td>
      <td>
        <form method="POST" action="/record-dose" class="d-flex gap-2">
          <input type="hidden" name="regimen-id" value="{{.RegimenID}}">
          <input type="hidden" name="date" value="{{.Date}}">
          <input type="hidden" name="time" value="{{.Time}}">
          {{if or (eq .Status "taken") (eq .Status "skipped")}}
          <button type="submit" name="action" value="unmark" class="btn btn-sm btn-outline-secondary">Undo</button>
          {{else}}
          <button type="submit" name="action" value="taken" class="btn btn-sm btn-primary">Taken</button>
          <input type="text" name="reason" placeholder="Reason" class="form-control form-control-sm">
          <button type="submit" name="action" value="skipped" class="btn btn-sm btn-outline-danger">Skip</button>
          {{end}}
        </form>
      </td>
    </tr>
    {{else}}
    <tr><td colspan="5">Nothing scheduled.</td></tr>
    {{end}}
  </tbody>
</table>
{{end}}
`

var TodayTemplate = newPage(todayText)
