package authgw

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/apperr"
	"github.com/planmeet/planmeet/internal/server"
)

// Provider is the part of Client the HTTP handler needs.
type Provider interface {
	Login(ctx context.Context, username, password string) (*Token, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListGroups(ctx context.Context) ([]Group, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UserData(ctx context.Context, userID string) (*UserData, error)
	AssignTeam(ctx context.Context, userID, teamName string) error
	UnassignTeam(ctx context.Context, userID, teamName string) error
	AssignRole(ctx context.Context, userID, roleName string) error
	UnassignRole(ctx context.Context, userID, roleName string) error
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type teamRequest struct {
	UserID   string `json:"userId"`
	TeamName string `json:"teamName"`
}

type roleRequest struct {
	UserID   string `json:"userId"`
	RoleName string `json:"roleName"`
}

// Handler serves the gateway routes.
type Handler struct {
	provider Provider
	logger   *zap.Logger
}

// NewHandler creates a Handler over p.
func NewHandler(p Provider, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{provider: p, logger: logger}
}

// Register mounts the public login route and the administrator routes.
func (h *Handler) Register(r gin.IRouter, reader server.ActorReader) {
	r.POST("/auth/login", h.login)

	g := r.Group("/", server.Authenticate(reader), server.RequireAdmin())
	g.GET("/user", h.user)
	g.GET("/users", h.users)
	g.GET("/groups", h.groups)
	g.GET("/roles", h.roles)
	g.GET("/getUserData", h.userData)
	g.POST("/assign-team", h.assignTeam)
	g.POST("/unassign-team", h.unassignTeam)
	g.POST("/assign-role", h.assignRole)
	g.POST("/unassign-role", h.unassignRole)
}

// login processes POST /auth/login.
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		server.WriteError(c, apperr.InvalidArgument("authgw.login", "Username and password are required"))
		return
	}
	tok, err := h.provider.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		server.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// user processes GET /user.
func (h *Handler) user(c *gin.Context) {
	actor, _ := server.ActorFrom(c)
	c.JSON(http.StatusOK, gin.H{"message": "User Authenticated", "user": actor})
}

// users processes GET /users.
func (h *Handler) users(c *gin.Context) {
	users, err := h.provider.ListUsers(c.Request.Context())
	if err != nil {
		server.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// groups processes GET /groups.
func (h *Handler) groups(c *gin.Context) {
	groups, err := h.provider.ListGroups(c.Request.Context())
	if err != nil {
		server.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// roles answers under the "groups" key, which the UI reads.
func (h *Handler) roles(c *gin.Context) {
	roles, err := h.provider.ListRoles(c.Request.Context())
	if err != nil {
		server.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": roles})
}

// userData processes GET /getUserData.
func (h *Handler) userData(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		server.WriteError(c, apperr.InvalidArgument("authgw.user_data", "userId is required"))
		return
	}
	data, err := h.provider.UserData(c.Request.Context(), userID)
	if err != nil {
		server.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// assignTeam processes POST /assign-team.
func (h *Handler) assignTeam(c *gin.Context) {
	h.team(c, "authgw.assign_team", h.provider.AssignTeam, "User %s assigned to team %s")
}

// unassignTeam processes POST /unassign-team.
func (h *Handler) unassignTeam(c *gin.Context) {
	h.team(c, "authgw.unassign_team", h.provider.UnassignTeam, "User %s removed from team %s")
}

// assignRole processes POST /assign-role.
func (h *Handler) assignRole(c *gin.Context) {
	h.role(c, "authgw.assign_role", h.provider.AssignRole, "Role %[2]s granted to user %[1]s")
}

// unassignRole processes POST /unassign-role.
func (h *Handler) unassignRole(c *gin.Context) {
	h.role(c, "authgw.unassign_role", h.provider.UnassignRole, "Role %[2]s revoked from user %[1]s")
}

// membershipFunc adds or removes one membership of a user.
type membershipFunc func(ctx context.Context, userID, name string) error

func (h *Handler) team(c *gin.Context, op string, fn membershipFunc, msg string) {
	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.TeamName == "" {
		server.WriteError(c, apperr.InvalidArgument(op, "User ID and Team Name are required"))
		return
	}
	h.apply(c, fn, req.UserID, req.TeamName, msg)
}

func (h *Handler) role(c *gin.Context, op string, fn membershipFunc, msg string) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.RoleName == "" {
		server.WriteError(c, apperr.InvalidArgument(op, "User ID and Role Name are required"))
		return
	}
	h.apply(c, fn, req.UserID, req.RoleName, msg)
}

func (h *Handler) apply(c *gin.Context, fn membershipFunc, userID, name, msg string) {
	if err := fn(c.Request.Context(), userID, name); err != nil {
		server.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf(msg, userID, name)})
}
