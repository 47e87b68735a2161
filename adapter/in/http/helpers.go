package http

import (
	"time"

	"agent_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// APIResponse is the success envelope. Errors use middleware.ErrorResponse.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

// SuccessResponse sends data wrapped in the success envelope.
func SuccessResponse(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// bindJSON parses the body, turning decoder errors into a 400.
func bindJSON(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return apperr.BadRequest("request body is required")
	}
	if err := c.BodyParser(dst); err != nil {
		return apperr.BadRequest("invalid JSON body").WithError(err)
	}
	return nil
}
