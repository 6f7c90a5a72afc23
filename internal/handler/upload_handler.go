package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/service"
	"github.com/boostcampwm-2022/web24-Asniti/internal/utils"
)

// UploadHandler accepts image attachments for a channel.
type UploadHandler struct {
	service service.UploadService
	logger  zerolog.Logger
}

// NewUploadHandler creates an upload handler instance.
func NewUploadHandler(service service.UploadService, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		service: service,
		logger:  logger.With().Str("component", "upload_handler").Logger(),
	}
}

// Register binds the attachment routes under the channels group.
func (h *UploadHandler) Register(channels fiber.Router) {
	channels.Post("/:channelId/attachments", h.upload)
	channels.Get("/:channelId/attachments", h.list)
}

func (h *UploadHandler) upload(c *fiber.Ctx) error {
	userID := localString(c.Locals("user_id"))
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user id missing")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	response, err := h.service.Upload(ctx, file, userID, c.Params("channelId"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUploadTooLarge):
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, service.ErrUploadNotImage):
			return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
		default:
			return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attachment stored", response)
}

func (h *UploadHandler) list(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	responses, err := h.service.List(ctx, c.Params("channelId"), c.QueryInt("limit"))
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "channel attachments", responses)
}
