// Package identity turns bearer credentials issued by the identity provider
// into an Actor, the authorization context every checklist operation takes.
package identity

import (
	"context"
	"path"
	"strings"

	"github.com/samber/lo"
)

// Actor is the normalized identity of a caller.
type Actor struct {
	Subject   string   `json:"sub"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	IsAdmin   bool     `json:"isAdmin"`
	IsManager bool     `json:"isManager"`
	Team      string   `json:"team,omitempty"`
}

// HasTeam reports whether the actor belongs to a team.
func (a Actor) HasTeam() bool { return a.Team != "" }

// InTeam reports whether the actor belongs to the given team.
func (a Actor) InTeam(team string) bool { return a.Team != "" && a.Team == team }

// Policy names the realm roles and group conventions used by the provider.
type Policy struct {
	AdminRole   string
	ManagerRole string
	TeamPrefix  string
}

// DefaultPolicy matches the realm setup of the planmeet deployment.
var DefaultPolicy = Policy{
	AdminRole:   "CIO",
	ManagerRole: "PO",
	TeamPrefix:  "dev_team_",
}

// Claims is the subset of the access token the services care about.
type Claims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	ExpiresAt         int64  `json:"exp"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	Groups []string `json:"groups"`
	Group  []string `json:"group"`
	Team   string   `json:"team"`
}

// Actor applies the policy to the claims.
func (p Policy) Actor(c *Claims) Actor {
	roles := c.RealmAccess.Roles
	a := Actor{
		Subject:   c.Subject,
		Username:  c.PreferredUsername,
		Roles:     roles,
		IsAdmin:   p.AdminRole != "" && lo.Contains(roles, p.AdminRole),
		IsManager: p.ManagerRole != "" && lo.Contains(roles, p.ManagerRole),
	}
	a.Team = p.team(c)
	return a
}

// team picks the first non-administrative group, then the explicit team
// claim, then the first team-prefixed realm role. A group path names the
// team by its last segment.
func (p Policy) team(c *Claims) string {
	groups := c.Groups
	if len(groups) == 0 {
		groups = c.Group
	}
	for _, g := range groups {
		name := strings.Trim(strings.TrimSpace(g), "/")
		if name != "" {
			name = path.Base(name)
		}
		if name == "" || name == p.AdminRole || name == p.ManagerRole {
			continue
		}
		return name
	}
	if t := strings.TrimSpace(c.Team); t != "" {
		return t
	}
	if p.TeamPrefix != "" {
		if role, ok := lo.Find(c.RealmAccess.Roles, func(r string) bool {
			return strings.HasPrefix(r, p.TeamPrefix)
		}); ok {
			return role
		}
	}
	return ""
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
