package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var rankingTemplate = template.Must(template.New("ranking").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; color: #1a1a1a; margin: 0; }
  h1 { font-size: 22px; margin-bottom: 2px; }
  .meta { color: #777; font-size: 11px; margin-bottom: 18px; }
  ol { padding-left: 0; list-style: none; counter-reset: rank; }
  li { display: flex; align-items: baseline; padding: 7px 0; border-bottom: 1px solid #eee; page-break-inside: avoid; }
  .rank { font-size: 16px; font-weight: bold; width: 36px; color: #b8860b; }
  .title { font-size: 14px; font-weight: 600; }
  .overview { font-size: 11px; color: #555; margin-left: 36px; }
</style>
</head>
<body>
<h1>{{.OwnerName}}&rsquo;s Movie Ranking</h1>
<div class="meta">{{.Count}} movies &middot; exported {{.ExportedAt}}</div>
<ol>
{{range .Items}}  <li><span class="rank">{{.Rank}}</span><span class="title">{{.Title}}</span></li>
  {{if .Overview}}<div class="overview">{{.Overview}}</div>{{end}}
{{end}}</ol>
</body>
</html>`))

type templateData struct {
	OwnerName  string
	Count      int
	ExportedAt string
	Items      []Item
}

// renderHTML produces the printable page for the owner's list.
func renderHTML(ownerName string, items []Item, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := rankingTemplate.Execute(&buf, templateData{
		OwnerName:  ownerName,
		Count:      len(items),
		ExportedAt: now.Format("January 2, 2006"),
		Items:      items,
	})
	if err != nil {
		return "", fmt.Errorf("render ranking template: %w", err)
	}
	return buf.String(), nil
}
