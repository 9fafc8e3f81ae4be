package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/apperr"
	"github.com/planmeet/planmeet/internal/checklist"
)

// ChecklistHandler serves the checklist board over HTTP.
type ChecklistHandler struct {
	svc    *checklist.Service
	logger *zap.Logger
}

// NewChecklistHandler creates a ChecklistHandler.
func NewChecklistHandler(svc *checklist.Service, logger *zap.Logger) *ChecklistHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChecklistHandler{svc: svc, logger: logger}
}

// Register mounts the checklist routes behind Authenticate.
func (h *ChecklistHandler) Register(r gin.IRouter, reader ActorReader) {
	g := r.Group("/", Authenticate(reader))

	g.POST("/checklists", h.create)
	g.GET("/checklists", h.list)
	g.GET("/checklists/team/:team", h.listByTeam)
	g.GET("/checklists/:id/:team", h.get)
	g.PUT("/checklists/:id/:team", h.updateStatus)
	g.PUT("/checklists/:id/:team/edit", h.editContent)
	g.DELETE("/checklists/:id/:team", h.delete)

	g.POST("/submission/:team", h.submit)
	g.GET("/submissions", h.listSubmissions)
	g.GET("/submissions/:team", h.listSubmissions)
	g.PUT("/submissions/:id/:team/edit", h.editSubmission)
}

// create processes POST /checklists.
func (h *ChecklistHandler) create(c *gin.Context) {
	var in checklist.CreateInput
	if !bindJSON(c, &in) {
		return
	}
	actor, _ := ActorFrom(c)
	item, err := h.svc.Create(c.Request.Context(), actor, in)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.Header("Location", fmt.Sprintf("/checklists/%s/%s", item.ID, item.Team))
	c.JSON(http.StatusCreated, item)
}

// list processes GET /checklists.
func (h *ChecklistHandler) list(c *gin.Context) {
	actor, _ := ActorFrom(c)
	items, err := h.svc.List(c.Request.Context(), actor)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// listByTeam processes GET /checklists/team/:team.
func (h *ChecklistHandler) listByTeam(c *gin.Context) {
	items, err := h.svc.ListByTeam(c.Request.Context(), c.Param("team"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// get processes GET /checklists/:id/:team.
func (h *ChecklistHandler) get(c *gin.Context) {
	item, err := h.svc.Get(c.Request.Context(), keyParam(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// updateStatus processes PUT /checklists/:id/:team.
func (h *ChecklistHandler) updateStatus(c *gin.Context) {
	var in checklist.StatusInput
	if !bindJSON(c, &in) {
		return
	}
	actor, _ := ActorFrom(c)
	item, err := h.svc.UpdateStatus(c.Request.Context(), actor, keyParam(c), in.Status)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// editContent processes PUT /checklists/:id/:team/edit.
func (h *ChecklistHandler) editContent(c *gin.Context) {
	var in checklist.ContentInput
	if !bindJSON(c, &in) {
		return
	}
	actor, _ := ActorFrom(c)
	item, err := h.svc.EditContent(c.Request.Context(), actor, keyParam(c), in.Title, in.Description)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// delete processes DELETE /checklists/:id/:team.
func (h *ChecklistHandler) delete(c *gin.Context) {
	actor, _ := ActorFrom(c)
	if err := h.svc.Delete(c.Request.Context(), actor, keyParam(c)); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Checklist deleted"})
}

// submit processes POST /submission/:team.
func (h *ChecklistHandler) submit(c *gin.Context) {
	actor, _ := ActorFrom(c)
	res, err := h.svc.SubmitTeamDone(c.Request.Context(), actor, c.Param("team"))
	if err != nil {
		if res == nil {
			WriteError(c, err)
			return
		}
		h.logger.Warn("team submission incomplete", zap.String("team", c.Param("team")),
			zap.Int("submitted", len(res.Submitted)), zap.Int("failed", len(res.Failed)))
		_ = c.Error(err)
		status, body := ErrorBody(err)
		body["submitted"] = res.Submitted
		body["failed"] = res.Failed
		c.AbortWithStatusJSON(status, body)
		return
	}
	c.JSON(http.StatusOK, res.Submitted)
}

// listSubmissions processes GET /submissions and GET /submissions/:team.
func (h *ChecklistHandler) listSubmissions(c *gin.Context) {
	actor, _ := ActorFrom(c)
	items, err := h.svc.ListSubmissions(c.Request.Context(), actor, c.Param("team"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// editSubmission processes PUT /submissions/:id/:team/edit.
func (h *ChecklistHandler) editSubmission(c *gin.Context) {
	var in checklist.ContentInput
	if !bindJSON(c, &in) {
		return
	}
	actor, _ := ActorFrom(c)
	item, err := h.svc.EditSubmission(c.Request.Context(), actor, keyParam(c), in.Title, in.Description)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// keyParam reads the item key from the :id and :team path segments.
func keyParam(c *gin.Context) checklist.Key {
	return checklist.Key{ID: c.Param("id"), Team: c.Param("team")}
}

// bindJSON decodes a single JSON object from the request body into v and
// answers 400 when it cannot.
func bindJSON(c *gin.Context, v interface{}) bool {
	dec := json.NewDecoder(c.Request.Body)
	if err := dec.Decode(v); err != nil {
		WriteError(c, apperr.InvalidArgument("decode", fmt.Sprintf("invalid request payload: %v", err)))
		return false
	}
	if err := ensureSingleJSON(dec); err != nil {
		WriteError(c, apperr.InvalidArgument("decode", err.Error()))
		return false
	}
	return true
}

// ensureSingleJSON ensures only a single JSON object is in the request body.
func ensureSingleJSON(dec *json.Decoder) error {
	if t, err := dec.Token(); err != io.EOF || t != nil {
		return fmt.Errorf("request body must only contain a single JSON object")
	}
	return nil
}
