// Package authgw fronts the identity provider for the planning UI: password
// login, and realm administration of users, teams and roles.
package authgw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/planmeet/planmeet/internal/apperr"
)

const userAgent = "planmeet gateway"

// Options locates the realm and the confidential client the gateway uses.
type Options struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// HTTPClient is used for every call to the provider. Defaults to a
	// client with Timeout.
	HTTPClient *http.Client
}

// Token is what a successful login returns to the browser.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// User is a realm user as the admin API lists it.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// Group is a realm group. Teams are groups.
type Group struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Path      string  `json:"path,omitempty"`
	SubGroups []Group `json:"subGroups,omitempty"`
}

// Role is a realm role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId,omitempty"`
}

// UserData is a user with its team groups and realm roles.
type UserData struct {
	User
	Groups []Group `json:"groups"`
	Roles  []Role  `json:"roles"`
}

// Client talks to the token endpoint and the admin API of one realm.
type Client struct {
	login  *oauth2.Config
	admin  *resty.Client
	hc     *http.Client
	logger *zap.Logger
}

// NewClient creates a Client. Admin calls authenticate with a service
// credential obtained by the client-credentials grant; the token is cached
// and refreshed by the token source.
func NewClient(o Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	base := strings.TrimRight(o.URL, "/")
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", base, o.Realm)

	service := &clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
	admin := resty.NewWithClient(oauth2.NewClient(ctx, service.TokenSource(ctx)))
	admin.SetBaseURL(fmt.Sprintf("%s/admin/realms/%s", base, o.Realm)).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	if o.Timeout > 0 {
		admin.SetTimeout(o.Timeout)
	}

	return &Client{
		login: &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		admin:  admin,
		hc:     hc,
		logger: logger,
	}
}

// Login exchanges a username and password for tokens.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	const op = "authgw.login"
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.hc)
	tok, err := c.login.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			c.logger.Debug("login rejected", zap.String("username", username), zap.Int("status", re.Response.StatusCode))
			return nil, &apperr.Error{Kind: apperr.KindUnauthenticated, Op: op, Msg: "Invalid credentials", Err: errors.New(string(re.Body))}
		}
		return nil, apperr.Wrap(apperr.KindIdentityUnavailable, op, "", err)
	}

	out := &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if v, ok := tok.Extra("expires_in").(float64); ok {
		out.ExpiresIn = int64(v)
	} else if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return out, nil
}

// ListUsers returns the realm users.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, "authgw.list_users", resty.MethodGet, "/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListGroups returns the top-level realm groups with their subgroups.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, "authgw.list_groups", resty.MethodGet, "/groups", nil, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListRoles returns the realm roles.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, "authgw.list_roles", resty.MethodGet, "/roles", nil, nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// UserData returns the user with its groups and realm role mappings.
func (c *Client) UserData(ctx context.Context, userID string) (*UserData, error) {
	const op = "authgw.user_data"
	params := map[string]string{"id": userID}
	out := &UserData{Groups: []Group{}, Roles: []Role{}}
	if err := c.do(ctx, op, resty.MethodGet, "/users/{id}", params, nil, &out.User); err != nil {
		return nil, err
	}
	if err := c.do(ctx, op, resty.MethodGet, "/users/{id}/groups", params, nil, &out.Groups); err != nil {
		return nil, err
	}
	if err := c.do(ctx, op, resty.MethodGet, "/users/{id}/role-mappings/realm", params, nil, &out.Roles); err != nil {
		return nil, err
	}
	return out, nil
}

// AssignTeam adds the user to the group named teamName.
func (c *Client) AssignTeam(ctx context.Context, userID, teamName string) error {
	const op = "authgw.assign_team"
	g, err := c.groupByName(ctx, op, teamName)
	if err != nil {
		return err
	}
	err = c.do(ctx, op, resty.MethodPut, "/users/{id}/groups/{group}",
		map[string]string{"id": userID, "group": g.ID}, struct{}{}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("user assigned to team", zap.String("user", userID), zap.String("team", teamName))
	return nil
}

// UnassignTeam removes the user from the group named teamName.
func (c *Client) UnassignTeam(ctx context.Context, userID, teamName string) error {
	const op = "authgw.unassign_team"
	g, err := c.groupByName(ctx, op, teamName)
	if err != nil {
		return err
	}
	err = c.do(ctx, op, resty.MethodDelete, "/users/{id}/groups/{group}",
		map[string]string{"id": userID, "group": g.ID}, nil, nil)
	if err != nil {
		return err
	}
	c.logger.Info("user removed from team", zap.String("user", userID), zap.String("team", teamName))
	return nil
}

// AssignRole grants the realm role roleName to the user.
func (c *Client) AssignRole(ctx context.Context, userID, roleName string) error {
	const op = "authgw.assign_role"
	role, err := c.roleByName(ctx, op, roleName)
	if err != nil {
		return err
	}
	err = c.do(ctx, op, resty.MethodPost, "/users/{id}/role-mappings/realm",
		map[string]string{"id": userID}, []Role{*role}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("role granted", zap.String("user", userID), zap.String("role", roleName))
	return nil
}

// UnassignRole revokes the realm role roleName from the user.
func (c *Client) UnassignRole(ctx context.Context, userID, roleName string) error {
	const op = "authgw.unassign_role"
	role, err := c.roleByName(ctx, op, roleName)
	if err != nil {
		return err
	}
	err = c.do(ctx, op, resty.MethodDelete, "/users/{id}/role-mappings/realm",
		map[string]string{"id": userID}, []Role{*role}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("role revoked", zap.String("user", userID), zap.String("role", roleName))
	return nil
}

// groupByName finds a group by name at any depth.
func (c *Client) groupByName(ctx context.Context, op, name string) (*Group, error) {
	groups, err := c.ListGroups(ctx)
	if err != nil {
		return nil, relabel(err, op)
	}
	g, ok := lo.Find(flatten(groups), func(g Group) bool { return g.Name == name })
	if !ok {
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Op: op, Key: name, Msg: "Team not found"}
	}
	return &g, nil
}

// roleByName looks up a realm role.
func (c *Client) roleByName(ctx context.Context, op, name string) (*Role, error) {
	var role Role
	if err := c.do(ctx, op, resty.MethodGet, "/roles/{role}", map[string]string{"role": name}, nil, &role); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, &apperr.Error{Kind: apperr.KindNotFound, Op: op, Key: name, Msg: "Role not found"}
		}
		return nil, err
	}
	return &role, nil
}

// do runs one admin API call and classifies the outcome.
func (c *Client) do(ctx context.Context, op, method, path string, params map[string]string, body, out interface{}) error {
	r := c.admin.R().SetContext(ctx)
	if params != nil {
		r.SetPathParams(params)
	}
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}

	res, err := r.Execute(method, path)
	if err != nil {
		return apperr.Wrap(apperr.KindIdentityUnavailable, op, "", pkgerrors.Wrapf(err, "%s %s", method, path))
	}
	if !res.IsError() {
		return nil
	}

	cause := fmt.Errorf("%s %s: %s: %s", method, path, res.Status(), strings.TrimSpace(string(res.Body())))
	switch res.StatusCode() {
	case http.StatusNotFound:
		return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Key: params["id"], Err: cause}
	case http.StatusBadRequest, http.StatusConflict:
		return &apperr.Error{Kind: apperr.KindInvalidArgument, Op: op, Msg: "rejected by the identity provider", Err: cause}
	default:
		c.logger.Warn("identity provider call failed", zap.String("op", op), zap.Int("status", res.StatusCode()))
		return apperr.Wrap(apperr.KindIdentityUnavailable, op, "", cause)
	}
}

func flatten(groups []Group) []Group {
	var out []Group
	for _, g := range groups {
		out = append(out, g)
		out = append(out, flatten(g.SubGroups)...)
	}
	return out
}

func relabel(err error, op string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}
