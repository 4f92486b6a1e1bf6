package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
)

func JSONSuccess(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": data})
}

// JSONError writes the error envelope for err using the shared taxonomy.
func JSONError(c *fiber.Ctx, err error) error {
	body := fiber.Map{
		"status":  "error",
		"code":    apperr.Code(err),
		"message": apperr.Message(err),
	}
	if f := apperr.Fields(err); len(f) > 0 {
		body["fields"] = f
	}
	return c.Status(apperr.HTTPStatus(err)).JSON(body)
}
