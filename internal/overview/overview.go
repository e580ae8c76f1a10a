// Package overview builds the dashboard landing page: user counts and the
// operator's display name.
package overview

import (
	"strings"

	"admindash/internal/models"
	"admindash/internal/query"
	"admindash/internal/usermgmt"
)

type DisplayNamer interface {
	DisplayName() string
}

type View struct {
	Status      query.Status `json:"status"`
	Fetching    bool         `json:"fetching"`
	Error       string       `json:"error,omitempty"`
	DisplayName string       `json:"display_name"`
	Stats       models.Stats `json:"stats"`
}

// Page shares the user list entry with the management panel.
type Page struct {
	cache *query.Cache
	fetch query.Fetcher
	names DisplayNamer
}

func New(cache *query.Cache, fetch query.Fetcher, names DisplayNamer) *Page {
	return &Page{cache: cache, fetch: fetch, names: names}
}

func (p *Page) Mount() (query.State, query.Unsubscribe) {
	return p.cache.Subscribe(usermgmt.UsersKey, p.fetch, nil)
}

func (p *Page) View() View {
	st := p.cache.Peek(usermgmt.UsersKey)
	v := View{Status: st.Status, Fetching: st.Fetching, DisplayName: p.names.DisplayName()}
	if st.Err != nil {
		v.Error = "Failed to fetch users"
	}
	users, _ := query.Value[[]models.User](st)
	v.Stats = Stats(users)
	return v
}

// Stats counts users by status and role. Users without a status count only
// toward the total.
func Stats(users []models.User) models.Stats {
	s := models.Stats{Total: len(users)}
	for _, u := range users {
		switch strings.ToLower(strings.TrimSpace(u.Status)) {
		case "active":
			s.Active++
		case "inactive":
			s.Inactive++
		}
		if strings.EqualFold(string(u.Role), string(models.RoleAdmin)) {
			s.Admins++
		}
	}
	return s
}
