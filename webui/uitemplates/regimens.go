package uitemplates

type ListRegimensParams struct {
	PageParams

	Regimens []*ListRegimensRegimen
}

type ListRegimensRegimen struct {
	Name             string
	Kind             string
	Dose             string
	Times            string
	Days             string
	Inventory        string
	ExpiresOn        string
	Active           bool
	RecordRefillLink string
}

var listRegimensText = `
{{define "title"}}Regimens{{end}}

{{define "breadcrumbs" -}}
  <li class="breadcrumb-item"><a href="/">Today</a></li>
  <li class="breadcrumb-item active" aria-current="page">Regimens</li>
{{- end}}

{{define "content"}}
<table class="table">
  <thead>
    <tr>
      <th>Name</th>
      <th>Kind</th>
      <th>Dose</th>
      <th>Times</th>
      <th>Days</th>
      <th>Stock</th>
      <th>Expires</th>
      <th></th>
    </tr>
  </thead>
  <tbody>
    {{range .Regimens}}
    <tr{{if not .Active}} class="text-muted"{{end}}>
      <td>{{.Name}}</td>
      <td>{{.Kind}}</td>
      <td>{{.Dose}}</td>
      <td>{{.Times}}</td>
      <td>{{.Days}}</td>
      <td>{{.Inventory}}</td>
      <td>{{.ExpiresOn}}</td>
      <td>{{if .Active}}<a href="{{.RecordRefillLink}}">Record Refill</a>{{end}}</td>
    </tr>
    {{end}}
  </tbody>
</table>
{{end}}
`

var ListRegimensTemplate = newPage(listRegimensText)

type RecordRefillParams struct {
	PageParams

	RegimenID   string
	RegimenName string
	SelfLink    string
}

var recordRefillText = `
{{define "title"}}Record Refill{{end}}

{{define "breadcrumbs" -}}
  <li class="breadcrumb-item"><a href="/">Today</a></li>
  <li class="breadcrumb-item"><a href="/regimens">Regimens</a></li>
  <li class="breadcrumb-item active" aria-current="page"><a href="{{.SelfLink}}">Record Refill: {{.RegimenName}}</a></li>
{{- end}}

{{define "content"}}
<form method="POST">
  <input type="hidden" name="regimen-id" value="{{.RegimenID}}">
  <div class="mb-3">
    <label for="quantity" class="form-label">Units in the new pack</label>
    <input id="quantity" type="number" min="1" name="quantity" class="form-control" required>
  </div>
  <div class="mb-3">
    <label for="expires-on" class="form-label">Expires on (YYYY-MM-DD)</label>
    <input id="expires-on" type="text" name="expires-on" class="form-control">
  </div>

  <button type="submit" class="btn btn-primary">Record Refill</button>
</form>
{{end}}
`

var RecordRefillTemplate = newPage(recordRefillText)
