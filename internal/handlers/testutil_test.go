package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sendvault/backend/internal/config"
	"github.com/sendvault/backend/internal/middleware"
	"github.com/sendvault/backend/internal/models"
	"github.com/sendvault/backend/internal/registry"
	"github.com/sendvault/backend/internal/storage"
	"github.com/sendvault/backend/internal/transfer"
	"github.com/sendvault/backend/pkg/logger"
	"github.com/sendvault/backend/pkg/utils"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	app     *fiber.App
	service *transfer.Service
	db      *gorm.DB
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureKeyWrap("test-wrap-secret")
		utils.ConfigureMaintenanceAuth("test-maintenance-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.Transfer{}, &models.DownloadAttempt{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed creating blob store: %v", err)
	}

	service := transfer.NewService(registry.NewGormRegistry(db), blobs, config.TransferConfig{
		DefaultExpirationHours: 24,
		DefaultMaxDownloads:    10,
		MaxSizeBytes:           10 * 1024 * 1024,
	}, "http://localhost:8080")

	transfersHandler := NewTransfersHandler(service)

	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	transferRoutes := api.Group("/transfers")
	transferRoutes.Post("/", transfersHandler.Create)
	transferRoutes.Get("/:id", transfersHandler.Get)
	transferRoutes.Post("/:id/validate", transfersHandler.Validate)
	transferRoutes.Get("/:id/download", transfersHandler.Download)
	transferRoutes.Get("/:id/stats", transfersHandler.Statistics)
	transferRoutes.Delete("/:id", transfersHandler.Delete)

	adminRoutes := api.Group("/admin", middleware.RequireMaintenanceToken)
	adminRoutes.Post("/cleanup", transfersHandler.Cleanup)

	return &testEnv{app: app, service: service, db: db}
}

// multipartUpload builds a transfer upload body with the given form fields
// and a single file part.
func multipartUpload(t *testing.T, fields map[string]string, fileName string, content []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing form field %s: %v", key, err)
		}
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("failed creating file part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed writing file content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

// createTestTransfer uploads a payload through the API and returns the
// transfer ID and access token from the response.
func createTestTransfer(t *testing.T, env *testEnv, fields map[string]string, content []byte) (string, string) {
	t.Helper()

	if fields == nil {
		fields = map[string]string{}
	}
	if _, ok := fields["senderEmail"]; !ok {
		fields["senderEmail"] = "sender@example.com"
	}

	body, contentType := multipartUpload(t, fields, "document.pdf", content)
	resp := performRequest(t, env.app, http.MethodPost, "/api/transfers/", body,
		map[string]string{"Content-Type": contentType})
	assertStatus(t, resp, fiber.StatusCreated)

	payload := decodeJSONMap(t, resp)
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data envelope in response: %+v", payload)
	}
	id, _ := data["transferID"].(string)
	token, _ := data["accessToken"].(string)
	if id == "" || token == "" {
		t.Fatalf("create response missing credentials: %+v", data)
	}
	return id, token
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
