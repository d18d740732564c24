package handlers

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sendvault/backend/internal/envelope"
	"github.com/sendvault/backend/internal/transfer"
	"github.com/sendvault/backend/pkg/logger"
	"github.com/sendvault/backend/pkg/utils"
)

type TransfersHandler struct {
	Service *transfer.Service
}

func NewTransfersHandler(service *transfer.Service) *TransfersHandler {
	return &TransfersHandler{Service: service}
}

func (h *TransfersHandler) Create(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fileHeader.Filename))
	}

	req := transfer.CreateRequest{
		Payload:      stream,
		FileName:     fileHeader.Filename,
		ContentType:  contentType,
		SenderEmail:  strings.TrimSpace(c.FormValue("senderEmail")),
		SenderName:   strings.TrimSpace(c.FormValue("senderName")),
		Password:     c.FormValue("password"),
		MaxDownloads: h.Service.DefaultMaxDownloads(),
	}

	if v := strings.TrimSpace(c.FormValue("recipientEmail")); v != "" {
		req.RecipientEmail = &v
	}
	if v := c.FormValue("message"); v != "" {
		req.Message = &v
	}
	if v := c.FormValue("expirationHours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid expirationHours")
		}
		req.ExpirationHours = hours
	}
	if v := c.FormValue("maxDownloads"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid maxDownloads")
		}
		req.MaxDownloads = limit
	}

	result, err := h.Service.CreateTransfer(c.Context(), req)
	if err != nil {
		return respondTransferError(c, err)
	}

	return utils.Success(c, fiber.StatusCreated, result)
}

func (h *TransfersHandler) Get(c *fiber.Ctx) error {
	id, token, ok := transferCredentials(c)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "transfer not found")
	}

	info, err := h.Service.GetTransferInfo(c.Context(), id, token)
	if err != nil {
		return respondTransferError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, info)
}

type validateRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *TransfersHandler) Validate(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"valid": false})
	}

	var req validateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	valid, err := h.Service.ValidateTransfer(c.Context(), id, req.Token, req.Password)
	if err != nil {
		return respondTransferError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"valid": valid})
}

func (h *TransfersHandler) Download(c *fiber.Ctx) error {
	id, token, ok := transferCredentials(c)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "transfer not found")
	}

	result, err := h.Service.DownloadTransfer(
		c.Context(), id, token, c.Query("password"), c.IP(), c.Get("User-Agent"))
	if err != nil {
		return respondTransferError(c, err)
	}

	c.Set(fiber.HeaderContentType, result.ContentType)
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", result.FileName))
	return c.SendStream(result.Stream)
}

func (h *TransfersHandler) Delete(c *fiber.Ctx) error {
	id, token, ok := transferCredentials(c)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "transfer not found")
	}

	if err := h.Service.DeleteTransfer(c.Context(), id, token); err != nil {
		return respondTransferError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

func (h *TransfersHandler) Statistics(c *fiber.Ctx) error {
	id, token, ok := transferCredentials(c)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "transfer not found")
	}

	stats, err := h.Service.GetStatistics(c.Context(), id, token)
	if err != nil {
		return respondTransferError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, stats)
}

func (h *TransfersHandler) Cleanup(c *fiber.Ctx) error {
	removed, err := h.Service.CleanupExpiredTransfers(c.Context())
	if err != nil {
		return respondTransferError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"removed": removed})
}

// respondTransferError maps engine errors onto the small stable set of
// caller-visible outcomes. Bad tokens arrive here as ErrNotFound already,
// so existence never leaks; password failures stay retryable.
func respondTransferError(c *fiber.Ctx, err error) error {
	var vErr *transfer.ValidationError
	switch {
	case errors.As(err, &vErr):
		return utils.Error(c, fiber.StatusBadRequest, vErr.Error())
	case errors.Is(err, transfer.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "transfer not found")
	case errors.Is(err, transfer.ErrUnauthorized):
		return utils.Error(c, fiber.StatusUnauthorized, "password required or incorrect")
	case errors.Is(err, transfer.ErrExpired):
		return utils.Error(c, fiber.StatusGone, "transfer has expired")
	case errors.Is(err, envelope.ErrCorruptedPayload):
		logger.Error("download_payload_corrupted", err, map[string]interface{}{
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "stored payload failed integrity check")
	default:
		logger.Error("transfer_internal_error", err, map[string]interface{}{
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
	}
}
