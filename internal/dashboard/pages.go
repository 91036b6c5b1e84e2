// Package dashboard serves page descriptors for the operations dashboard.
// Every descriptor is gated on view; edit affordances are listed only when
// the subject may edit the page. Omitted affordances are a rendering hint,
// the record endpoint enforces edit on its own.
package dashboard

import (
	"sort"

	"github.com/propdesk/propdesk/internal/rbac"
)

// Affordance is a UI control that requires a permission.
type Affordance struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Action rbac.Action `json:"action"`
}

// Page describes one dashboard route.
type Page struct {
	Slug         string       `json:"slug"`
	Path         string       `json:"path"`
	Title        string       `json:"title"`
	ResourceType string       `json:"resource_type,omitempty"`
	Affordances  []Affordance `json:"affordances"`
}

// AcceptsRecords reports whether POST /records is meaningful for the page.
func (p Page) AcceptsRecords() bool {
	return p.ResourceType != ""
}

var pages = map[string]Page{
	"accounts": {
		Slug: "accounts", Path: "/dashboard/accounts", Title: "Akun", ResourceType: "account",
		Affordances: []Affordance{{ID: "create-account", Label: "Tambah akun", Action: rbac.ActionEdit}},
	},
	"units": {
		Slug: "units", Path: "/dashboard/units", Title: "Unit", ResourceType: "unit",
		Affordances: []Affordance{
			{ID: "create-unit", Label: "Tambah unit", Action: rbac.ActionEdit},
			{ID: "export-units", Label: "Ekspor", Action: rbac.ActionView},
		},
	},
	"bookings": {
		Slug: "bookings", Path: "/dashboard/bookings", Title: "Reservasi", ResourceType: "booking",
		Affordances: []Affordance{
			{ID: "create-booking", Label: "Reservasi baru", Action: rbac.ActionEdit},
			{ID: "sync-calendars", Label: "Sinkronkan kalender", Action: rbac.ActionEdit},
		},
	},
	"maintenance": {
		Slug: "maintenance", Path: "/dashboard/maintenance", Title: "Pemeliharaan", ResourceType: "ticket",
		Affordances: []Affordance{{ID: "create-ticket", Label: "Buat tiket", Action: rbac.ActionEdit}},
	},
	"permissions": {
		Slug: "permissions", Path: "/dashboard/permissions", Title: "Hak akses",
		Affordances: []Affordance{{ID: "edit-overrides", Label: "Ubah hak akses", Action: rbac.ActionEdit}},
	},
}

// Lookup returns the page registered under slug.
func Lookup(slug string) (Page, bool) {
	p, ok := pages[slug]
	return p, ok
}

// Pages lists every registered page ordered by path.
func Pages() []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
