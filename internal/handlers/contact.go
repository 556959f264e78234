package handlers

import (
	"net/http"
	"strings"
	"uptune/internal/services"

	"github.com/gin-gonic/gin"
)

type ContactHandler struct {
	mailService *services.MailService
}

func NewContactHandler() *ContactHandler {
	return &ContactHandler{
		mailService: services.NewMailService(),
	}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Submit forwards a contact-form message to the site owner. The mail is
// sent asynchronously; the client gets an immediate acknowledgement.
func (h *ContactHandler) Submit(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid_json")
		return
	}

	fields := make(map[string]string)
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "required"
	}
	if strings.TrimSpace(req.Email) == "" || !strings.Contains(req.Email, "@") {
		fields["email"] = "a valid email is required"
	}
	if strings.TrimSpace(req.Message) == "" {
		fields["message"] = "required"
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "validation_failed", "fields": fields})
		return
	}

	h.mailService.SendContactEmail(req.Name, req.Email, req.Message)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
