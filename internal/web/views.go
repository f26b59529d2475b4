package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/JonMunkholm/stockfeed/internal/core"
	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/a-h/templ"
)

// DashboardData is everything the dashboard page renders.
type DashboardData struct {
	Snapshot *core.Snapshot // nil until the first commit
	Records  []inventory.Record
	Stats    inventory.Stats
	Query    inventory.Query
}

// handleDashboard renders the inventory page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{Query: parseQuery(r)}

	view, err := s.service.Inventory(r.Context(), false)
	switch {
	case err == nil:
		data.Snapshot = view.Snapshot
		data.Records = inventory.Filter(view.Records, data.Query)
		data.Stats = view.Stats
	case errors.Is(err, core.ErrNoSnapshot):
		// render the loading state
	default:
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Dashboard(data).Render(r.Context(), w); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusInternalServerError)
	}
}

// Dashboard renders the full page.
func Dashboard(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw(`<title>Inventory</title><style>`)
		p.raw(dashboardCSS)
		p.raw(`</style></head><body><main>`)
		p.raw(`<h1>Inventory</h1>`)

		if d.Snapshot == nil {
			p.raw(`<p class="notice">Inventory is loading. This page refreshes when the first snapshot arrives.</p>`)
		} else {
			p.raw(`<p class="meta">Updated `)
			p.text(d.Snapshot.FetchedAt.Format("2006-01-02 15:04:05 MST"))
			p.raw(` via `)
			p.text(d.Snapshot.Strategy)
			p.raw(`</p>`)
			if err := StatsCards(d.Stats).Render(ctx, w); err != nil {
				return err
			}
			if err := FilterForm(d.Query, d.Stats).Render(ctx, w); err != nil {
				return err
			}
			if err := InventoryTable(d.Records).Render(ctx, w); err != nil {
				return err
			}
		}

		p.raw(`</main><script>`)
		p.raw(dashboardJS)
		p.raw(`</script></body></html>`)
		return p.err
	})
}

// StatsCards renders the summary counters.
func StatsCards(st inventory.Stats) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<section class="cards">`)
		card := func(label, value, class string) {
			p.raw(`<div class="card `)
			p.text(class)
			p.raw(`"><span>`)
			p.text(label)
			p.raw(`</span><strong>`)
			p.text(value)
			p.raw(`</strong></div>`)
		}
		card("Items", strconv.Itoa(st.TotalItems), "")
		card("Stock value", fmt.Sprintf("%.2f", st.TotalValue), "")
		card("Low stock", strconv.Itoa(st.LowStock), "low")
		card("Out of stock", strconv.Itoa(st.OutOfStock), "out")
		p.raw(`</section>`)
		return p.err
	})
}

// FilterForm renders the category, status and text filters.
func FilterForm(q inventory.Query, st inventory.Stats) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<form class="filters" method="get" action="/">`)

		p.raw(`<select name="category"><option value="">All categories</option>`)
		categories := make([]string, 0, len(st.Categories))
		for c := range st.Categories {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			p.option(c, fmt.Sprintf("%s (%d)", c, st.Categories[c]), c == q.Category)
		}
		p.raw(`</select>`)

		p.raw(`<select name="status"><option value="">Any status</option>`)
		for _, status := range []inventory.Status{inventory.StatusInStock, inventory.StatusLowStock, inventory.StatusOutOfStock} {
			p.option(string(status), string(status), status == q.Status)
		}
		p.raw(`</select>`)

		p.raw(`<input type="search" name="q" placeholder="SKU, part number or name" value="`)
		p.text(q.Text)
		p.raw(`"><button type="submit">Filter</button>`)
		p.raw(`<a href="/api/export?format=xlsx">Export XLSX</a></form>`)
		return p.err
	})
}

// InventoryTable renders one row per record.
func InventoryTable(records []inventory.Record) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		if len(records) == 0 {
			p.raw(`<p class="notice">No items match.</p>`)
			return p.err
		}

		p.raw(`<table><thead><tr><th></th><th>SKU</th><th>Part #</th><th>Name</th><th>Category</th>`)
		p.raw(`<th>Location</th><th>Qty</th><th>Status</th><th>ETA</th></tr></thead><tbody>`)
		for _, rec := range records {
			p.raw(`<tr><td>`)
			if rec.ImageURL != "" {
				p.raw(`<img loading="lazy" alt="" src="`)
				p.text(string(templ.URL(rec.ImageURL)))
				p.raw(`">`)
			}
			p.raw(`</td>`)
			for _, v := range []string{rec.SKU, rec.PartNumber, rec.Name, rec.Category, rec.Location, strconv.Itoa(rec.Quantity)} {
				p.raw(`<td>`)
				p.text(v)
				p.raw(`</td>`)
			}
			p.raw(`<td><span class="status `)
			p.text(statusClass(rec.Status))
			p.raw(`">`)
			p.text(string(rec.Status))
			p.raw(`</span></td><td>`)
			p.text(rec.ETA)
			p.raw(`</td></tr>`)
		}
		p.raw(`</tbody></table>`)
		return p.err
	})
}

func statusClass(s inventory.Status) string {
	switch s {
	case inventory.StatusInStock:
		return "in"
	case inventory.StatusLowStock:
		return "low"
	default:
		return "out"
	}
}

// printer writes markup and escaped text, keeping the first error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *printer) option(value, label string, selected bool) {
	p.raw(`<option value="`)
	p.text(value)
	p.raw(`"`)
	if selected {
		p.raw(` selected`)
	}
	p.raw(`>`)
	p.text(label)
	p.raw(`</option>`)
}

const dashboardCSS = `body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f9;color:#1d232b}
main{max-width:1200px;margin:0 auto;padding:1.5rem}
.meta{color:#667}
.notice{padding:1rem;background:#fff;border:1px solid #dde}
.cards{display:flex;gap:1rem;margin:1rem 0}
.card{background:#fff;border:1px solid #dde;padding:.75rem 1rem;min-width:9rem}
.card span{display:block;color:#667;font-size:.85rem}
.card.low strong{color:#b7791f}.card.out strong{color:#c53030}
.filters{display:flex;gap:.5rem;margin:1rem 0;align-items:center}
table{width:100%;border-collapse:collapse;background:#fff}
th,td{padding:.4rem .6rem;border-bottom:1px solid #eee;text-align:left}
td img{width:48px;height:48px;object-fit:cover}
.status{padding:.1rem .4rem;border-radius:3px;font-size:.85rem}
.status.in{background:#e6fffa}.status.low{background:#fefcbf}.status.out{background:#fed7d7}`

const dashboardJS = `(function(){
  if (!window.EventSource) return;
  var seen = null;
  var es = new EventSource("/api/events");
  es.addEventListener("snapshot", function(e){
    var info = JSON.parse(e.data);
    if (seen !== null && info.id !== seen) { window.location.reload(); }
    seen = info.id;
  });
})();`
