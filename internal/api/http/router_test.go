package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/task-service/internal/api/http/handlers"
	"github.com/spec-kit/task-service/internal/auth"
	"github.com/spec-kit/task-service/internal/config"
	"github.com/spec-kit/task-service/internal/domain"
	"github.com/spec-kit/task-service/internal/events"
	"github.com/spec-kit/task-service/internal/observability"
	"github.com/spec-kit/task-service/internal/persistence"
	"github.com/spec-kit/task-service/internal/service"
)

// -------- test fakes --------

type fakeUserRepo struct {
	users map[string]*domain.User
	seq   int
}

func (f *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	f.seq++
	user.ID = fmt.Sprintf("u%d", f.seq)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeTaskRepo struct {
	tasks map[string]*domain.Task
	seq   int
	base  time.Time
}

func (f *fakeTaskRepo) Create(_ context.Context, task *domain.Task) error {
	f.seq++
	task.ID = fmt.Sprintf("t%d", f.seq)
	task.CreatedAt = f.base.Add(time.Duration(f.seq) * time.Second)
	task.UpdatedAt = task.CreatedAt
	stored := *task
	f.tasks[task.ID] = &stored
	return nil
}

func (f *fakeTaskRepo) Update(_ context.Context, task *domain.Task) error {
	if _, ok := f.tasks[task.ID]; !ok {
		return pgx.ErrNoRows
	}
	task.UpdatedAt = time.Now()
	stored := *task
	f.tasks[task.ID] = &stored
	return nil
}

func (f *fakeTaskRepo) GetByID(_ context.Context, id string) (*domain.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.Task, error) {
	var owned []domain.Task
	for _, task := range f.tasks {
		if task.OwnerID == ownerID {
			owned = append(owned, *task)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	if offset >= len(owned) {
		return nil, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

func (f *fakeTaskRepo) CountByOwner(_ context.Context, ownerID string) (int64, error) {
	var count int64
	for _, task := range f.tasks {
		if task.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (f *fakeTaskRepo) Delete(_ context.Context, id string) error {
	if _, ok := f.tasks[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.tasks, id)
	return nil
}

// -------- harness --------

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:    "test-secret",
			TokenTTLDays: 1,
			BcryptCost:   bcrypt.MinCost,
		},
	}
	userRepo := &fakeUserRepo{users: map[string]*domain.User{}}
	taskRepo := &fakeTaskRepo{tasks: map[string]*domain.Task{}, base: time.Now()}
	dispatcher := events.NewInMemoryDispatcher()

	authService := service.NewAuthService(cfg, service.AuthDependencies{
		UserRepo:   userRepo,
		Dispatcher: dispatcher,
	})
	taskService := service.NewTaskService(service.TaskDependencies{
		TaskRepo:   taskRepo,
		Dispatcher: dispatcher,
	})

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), observability.NewMetrics(), 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("test", "dev", &persistence.Postgres{}, &persistence.Redis{}),
		Auth:           handlers.NewAuthHandler(authService),
		Tasks:          handlers.NewTasksHandler(taskService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), userRepo),
	})
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func registerUser(t *testing.T, app *fiber.App, name, email string) (id, token string) {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"name":     name,
		"email":    email,
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, status)
	return body["_id"].(string), body["token"].(string)
}

// -------- tests --------

func TestWelcomeRoute(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	status, body := doJSON(t, app, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Welcome to the Task API", body["message"])
}

func TestRegisterAndLoginScenario(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"name":     "Ann",
		"email":    "ann@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, body["_id"])
	require.Equal(t, "Ann", body["name"])
	require.Equal(t, "ann@x.com", body["email"])
	require.NotEmpty(t, body["token"])
	require.NotContains(t, body, "password")

	status, body = doJSON(t, app, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email":    "ann@x.com",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Invalid credentials", body["message"])

	status, body = doJSON(t, app, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email":    "ann@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["token"])
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	registerUser(t, app, "Ann", "ann@x.com")
	status, body := doJSON(t, app, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"name":     "Ann Again",
		"email":    "ann@x.com",
		"password": "secret2",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "User already exists", body["message"])
}

func TestRegister_ValidationMessage(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"name":     "A",
		"email":    "ann@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Name must be at least 2 characters", body["message"])
}

func TestMe(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	id, token := registerUser(t, app, "Ann", "ann@x.com")

	status, body := doJSON(t, app, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, id, body["_id"])
	require.Equal(t, "Ann", body["name"])

	status, body = doJSON(t, app, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Not authorized, no token", body["message"])

	status, _ = doJSON(t, app, http.MethodGet, "/api/auth/me", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	_, token := registerUser(t, app, "Ann", "ann@x.com")

	status, body := doJSON(t, app, http.MethodPut, "/api/auth/profile", token, fiber.Map{
		"name": "Ann Updated",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Ann Updated", body["name"])
	require.Equal(t, "ann@x.com", body["email"])
	require.NotEmpty(t, body["token"], "profile update reissues a token")
}

func TestTaskOwnershipScenario(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	annID, annToken := registerUser(t, app, "Ann", "ann@x.com")
	_, bobToken := registerUser(t, app, "Bob", "bob@x.com")

	status, task := doJSON(t, app, http.MethodPost, "/api/tasks", annToken, fiber.Map{
		"title":       "T",
		"description": "D",
	})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "pending", task["status"], "status defaults to pending")
	require.Equal(t, annID, task["user"])
	taskID := task["_id"].(string)

	status, body := doJSON(t, app, http.MethodPut, "/api/tasks/"+taskID, bobToken, fiber.Map{
		"status": "completed",
	})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "User not authorized", body["message"])

	status, body = doJSON(t, app, http.MethodPut, "/api/tasks/does-not-exist", bobToken, fiber.Map{
		"status": "completed",
	})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Task not found", body["message"])

	status, body = doJSON(t, app, http.MethodPut, "/api/tasks/"+taskID, annToken, fiber.Map{
		"status": "in_progress",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "in_progress", body["status"])
	require.Equal(t, "T", body["title"], "partial update leaves title unchanged")
	require.Equal(t, "D", body["description"])

	status, body = doJSON(t, app, http.MethodDelete, "/api/tasks/"+taskID, bobToken, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "User not authorized", body["message"])

	status, body = doJSON(t, app, http.MethodDelete, "/api/tasks/"+taskID, annToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, taskID, body["id"])
}

func TestTaskCreate_ValidationMessage(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	_, token := registerUser(t, app, "Ann", "ann@x.com")

	status, body := doJSON(t, app, http.MethodPost, "/api/tasks", token, fiber.Map{
		"description": "D",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Title is required", body["message"])
}

func TestTaskList_LenientQueryDefaults(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	_, token := registerUser(t, app, "Ann", "ann@x.com")
	for i := 0; i < 3; i++ {
		status, _ := doJSON(t, app, http.MethodPost, "/api/tasks", token, fiber.Map{
			"title":       fmt.Sprintf("task %d", i),
			"description": "D",
		})
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := doJSON(t, app, http.MethodGet, "/api/tasks?page=abc&limit=-2", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["page"])
	require.Equal(t, float64(10), body["limit"])
	require.Equal(t, float64(3), body["totalTasks"])
	require.Equal(t, float64(1), body["totalPages"])
	require.Len(t, body["tasks"], 3)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	status, body := doJSON(t, app, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "alive", body["status"])

	// no postgres or redis configured in the harness
	status, _ = doJSON(t, app, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
}
