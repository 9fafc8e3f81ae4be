package authgw_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/samber/lo"
)

const (
	realm        = "planmeet"
	clientID     = "planning-app"
	clientSecret = "s3cret"
	serviceToken = "service-token"
)

// fakeProvider is an in-memory identity provider with the token endpoint
// and the parts of the admin API the gateway calls.
type fakeProvider struct {
	*httptest.Server

	mu           sync.Mutex
	users        map[string]map[string]interface{}
	groups       []map[string]interface{}
	roles        []map[string]interface{}
	memberOf     map[string][]string
	roleMappings map[string][]string
	serviceLogin int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		users: map[string]map[string]interface{}{
			"u1": {"id": "u1", "username": "alice", "email": "alice@example.com", "enabled": true},
			"u2": {"id": "u2", "username": "bob", "enabled": true},
		},
		groups: []map[string]interface{}{
			{"id": "g1", "name": "dev_team_1", "path": "/dev_team_1"},
			{"id": "g2", "name": "dev_team_2", "path": "/dev_team_2"},
		},
		roles: []map[string]interface{}{
			{"id": "r1", "name": "CIO"},
			{"id": "r2", "name": "PO"},
			{"id": "r3", "name": "Dev"},
		},
		memberOf:     map[string][]string{"u1": {"g1"}},
		roleMappings: map[string][]string{"u1": {"r2"}},
	}

	admin := "/admin/realms/" + realm
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/"+realm+"/protocol/openid-connect/token", p.token)
	mux.HandleFunc("GET "+admin+"/users", p.authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lo.Values(p.users))
	}))
	mux.HandleFunc("GET "+admin+"/groups", p.authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.groups)
	}))
	mux.HandleFunc("GET "+admin+"/roles", p.authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.roles)
	}))
	mux.HandleFunc("GET "+admin+"/roles/{role}", p.authorized(func(w http.ResponseWriter, r *http.Request) {
		role, ok := findByField(p.roles, "name", r.PathValue("role"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find role"})
			return
		}
		writeJSON(w, http.StatusOK, role)
	}))
	mux.HandleFunc("GET "+admin+"/users/{id}", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		writeJSON(w, http.StatusOK, p.users[id])
	}))
	mux.HandleFunc("GET "+admin+"/users/{id}/groups", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		writeJSON(w, http.StatusOK, pick(p.groups, p.memberOf[id]))
	}))
	mux.HandleFunc("PUT "+admin+"/users/{id}/groups/{group}", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		p.memberOf[id] = lo.Uniq(append(p.memberOf[id], r.PathValue("group")))
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("DELETE "+admin+"/users/{id}/groups/{group}", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		p.memberOf[id] = lo.Without(p.memberOf[id], r.PathValue("group"))
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET "+admin+"/users/{id}/role-mappings/realm", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		writeJSON(w, http.StatusOK, pick(p.roles, p.roleMappings[id]))
	}))
	mux.HandleFunc("POST "+admin+"/users/{id}/role-mappings/realm", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		for _, rid := range roleIDs(r) {
			p.roleMappings[id] = lo.Uniq(append(p.roleMappings[id], rid))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("DELETE "+admin+"/users/{id}/role-mappings/realm", p.withUser(func(w http.ResponseWriter, r *http.Request, id string) {
		p.roleMappings[id] = lo.Without(p.roleMappings[id], roleIDs(r)...)
		w.WriteHeader(http.StatusNoContent)
	}))

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != clientID || r.PostForm.Get("client_secret") != clientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized_client"})
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "wonderland" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "invalid_grant", "error_description": "Invalid user credentials",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "alice-access",
			"refresh_token": "alice-refresh",
			"token_type":    "Bearer",
			"expires_in":    300,
		})
	case "client_credentials":
		p.mu.Lock()
		p.serviceLogin++
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": serviceToken,
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (p *fakeProvider) serviceLogins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceLogin
}

func (p *fakeProvider) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+serviceToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		next(w, r)
	}
}

func (p *fakeProvider) withUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return p.authorized(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := p.users[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
			return
		}
		next(w, r, id)
	})
}

func roleIDs(r *http.Request) []string {
	var in []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return nil
	}
	return lo.Map(in, func(m map[string]interface{}, _ int) string {
		id, _ := m["id"].(string)
		return id
	})
}

func pick(all []map[string]interface{}, ids []string) []map[string]interface{} {
	return lo.Filter(all, func(m map[string]interface{}, _ int) bool {
		id, _ := m["id"].(string)
		return lo.Contains(ids, id)
	})
}

func findByField(all []map[string]interface{}, field, value string) (map[string]interface{}, bool) {
	return lo.Find(all, func(m map[string]interface{}) bool {
		v, _ := m[field].(string)
		return v == value
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
