package delivery

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/docker/go-units"
	"github.com/go-faster/errors"
)

type mailLink struct {
	Title   string
	Author  string
	Format  string
	Size    string
	URL     string
	Expires string
}

type mailData struct {
	Name    string
	OrderID string
	Links   []mailLink
}

const htmlBody = `<p>Hi {{.Name}},</p>
<p>Thank you for your order {{.OrderID}}. Your ebooks are ready to download:</p>
<ul>
{{- range .Links}}
<li><strong>{{.Title}}</strong> by {{.Author}} ({{.Format}}, {{.Size}})<br>
<a href="{{.URL}}">Download</a> &middot; link expires {{.Expires}}</li>
{{- end}}
</ul>
<p>Happy reading!</p>
`

const textBody = `Hi {{.Name}},

Thank you for your order {{.OrderID}}. Your ebooks are ready to download:
{{range .Links}}
- {{.Title}} by {{.Author}} ({{.Format}}, {{.Size}})
  {{.URL}}
  Link expires {{.Expires}}
{{end}}
Happy reading!
`

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody))
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textBody))
)

func humanSize(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return units.BytesSize(float64(n))
}

func expiry(at time.Time) string {
	return at.UTC().Format("02 Jan 2006 15:04 MST")
}

func render(data mailData) (html, text string, err error) {
	var hb, tb bytes.Buffer
	if err := htmlTmpl.Execute(&hb, data); err != nil {
		return "", "", errors.Wrap(err, "render html")
	}
	if err := textTmpl.Execute(&tb, data); err != nil {
		return "", "", errors.Wrap(err, "render text")
	}
	return hb.String(), tb.String(), nil
}
