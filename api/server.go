// Package api exposes the entitle engine over HTTP with fiber.
//
// Routes authenticate the caller with an Authenticator, which by default
// trusts an X-User-ID header set by an upstream auth proxy. Errors are
// rendered as {"error": message, "code": CODE} with a status derived from
// the engine's sentinel errors; quota denials also carry the feature,
// usage and upgrade tier.
package api

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
)

// DefaultUserHeader is the header HeaderAuthenticator reads by default.
const DefaultUserHeader = "X-User-ID"

// Authenticator returns the id of the calling user.
type Authenticator func(c *fiber.Ctx) (string, error)

// HeaderAuthenticator trusts the user id in header.
func HeaderAuthenticator(header string) Authenticator {
	return func(c *fiber.Ctx) (string, error) {
		userID := strings.TrimSpace(c.Get(header))
		if userID == "" {
			return "", entitle.ErrUnauthenticated
		}
		return userID, nil
	}
}

// AdminGuard decides whether the caller may edit the plan catalog.
type AdminGuard func(c *fiber.Ctx, userID string) bool

// AdminTokenGuard admits requests carrying "Bearer <token>". An empty
// token admits nobody.
func AdminTokenGuard(token string) AdminGuard {
	return func(c *fiber.Ctx, _ string) bool {
		if token == "" {
			return false
		}
		return c.Get(fiber.HeaderAuthorization) == "Bearer "+token
	}
}

// Server serves the engine's operations.
type Server struct {
	engine   *entitle.Engine
	logger   *slog.Logger
	auth     Authenticator
	admin    AdminGuard
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator replaces the header authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithAdminGuard enables the plan write routes for callers admitted by g.
// Without a guard those routes always answer 403.
func WithAdminGuard(g AdminGuard) Option {
	return func(s *Server) { s.admin = g }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server for engine.
func New(engine *entitle.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		logger:   slog.Default(),
		auth:     HeaderAuthenticator(DefaultUserHeader),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// App returns a fiber app with the routes mounted at the root.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          s.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	s.Register(app)
	return app
}

// Register mounts the routes on r.
func (s *Server) Register(r fiber.Router) {
	r.Get("/healthz", s.health)

	plans := r.Group("/plans")
	plans.Get("/", s.listPlans)
	plans.Get("/:tier", s.getPlan)
	plans.Post("/", s.requireAdmin, s.createPlan)
	plans.Patch("/:id", s.requireAdmin, s.updatePlan)

	auth := s.authenticate
	r.Get("/subscription", auth, s.getSubscription)
	r.Post("/subscription/activate", auth, s.activate)
	r.Post("/subscription/cancel", auth, s.cancel)
	r.Post("/subscription/downgrade", auth, s.downgrade)
	r.Post("/orders", auth, s.createOrder)
	r.Get("/usage", auth, s.usageStats)
	r.Get("/usage/:feature", auth, s.checkUsage)
	r.Post("/usage/:feature", auth, s.consume)
}

// ErrorHandler renders errors returned by handlers.
func (s *Server) ErrorHandler(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}
	return c.Status(status).JSON(errorBody(err, code, status))
}

// ──────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────

func (s *Server) authenticate(c *fiber.Ctx) error {
	userID, err := s.auth(c)
	if err != nil {
		return err
	}
	if userID == "" {
		return entitle.ErrUnauthenticated
	}
	c.Locals(userKey, userID)
	c.SetUserContext(entitle.WithUserID(c.UserContext(), userID))
	return c.Next()
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	userID, _ := s.auth(c)
	if s.admin == nil || !s.admin(c, userID) {
		return fiber.NewError(fiber.StatusForbidden, "Admin access required.")
	}
	return c.Next()
}

type localsKey string

const userKey localsKey = "entitle.user"

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals(userKey).(string)
	return userID
}

// bind parses the JSON body into v and validates it.
func (s *Server) bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Malformed request body.")
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid field: "+verrs[0].Field())
		}
		return fiber.NewError(fiber.StatusBadRequest, "The request is invalid.")
	}
	return nil
}

func featureParam(c *fiber.Ctx) (plan.Feature, error) {
	f := plan.Feature(c.Params("feature"))
	if !f.Valid() {
		return "", entitle.ErrUnknownFeature
	}
	return f, nil
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.engine.Store().Ping(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func (s *Server) listPlans(c *fiber.Ctx) error {
	plans, err := s.engine.ListPlans(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (s *Server) getPlan(c *fiber.Ctx) error {
	tier := plan.Tier(strings.ToUpper(c.Params("tier")))
	if !tier.Valid() {
		return entitle.ErrPlanNotFound
	}
	p, err := s.engine.GetPlan(c.UserContext(), tier)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *Server) createPlan(c *fiber.Ctx) error {
	var p plan.Plan
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Malformed request body.")
	}
	if err := s.engine.CreatePlan(c.UserContext(), &p); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(&p)
}

func (s *Server) updatePlan(c *fiber.Ctx) error {
	planID, err := id.ParsePlanID(c.Params("id"))
	if err != nil {
		return entitle.ErrPlanNotFound
	}
	var patch plan.Patch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Malformed request body.")
	}
	p, err := s.engine.UpdatePlan(c.UserContext(), planID, patch)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

type orderRequest struct {
	Tier          plan.Tier   `json:"tier" validate:"required,oneof=PRO PREMIUM"`
	BillingPeriod plan.Period `json:"billing_period" validate:"required,oneof=MONTHLY YEARLY"`
}

// activateRequest is the checkout callback. plan_id and billing_period are
// cross-checked against the order when present; the plan, amount and any
// recurring mandate applied come from the gateway.
type activateRequest struct {
	OrderID       string      `json:"order_id" validate:"required"`
	PaymentID     string      `json:"payment_id" validate:"required"`
	Signature     string      `json:"signature" validate:"required"`
	PlanID        string      `json:"plan_id"`
	BillingPeriod plan.Period `json:"billing_period" validate:"omitempty,oneof=MONTHLY YEARLY"`
}

func (s *Server) getSubscription(c *fiber.Ctx) error {
	view, err := s.engine.GetCurrentSubscription(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) createOrder(c *fiber.Ctx) error {
	var req orderRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	order, err := s.engine.CreateOrder(c.UserContext(), currentUser(c), req.Tier, req.BillingPeriod)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

func (s *Server) activate(c *fiber.Ctx) error {
	var req activateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	in := entitle.ActivateInput{
		UserID:        currentUser(c),
		OrderID:       req.OrderID,
		PaymentID:     req.PaymentID,
		Signature:     req.Signature,
		BillingPeriod: req.BillingPeriod,
	}
	if req.PlanID != "" {
		planID, err := id.ParsePlanID(req.PlanID)
		if err != nil {
			return entitle.ErrPlanNotFound
		}
		in.PlanID = planID
	}
	view, err := s.engine.Activate(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) cancel(c *fiber.Ctx) error {
	view, err := s.engine.Cancel(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) downgrade(c *fiber.Ctx) error {
	view, err := s.engine.DowngradeToFree(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func (s *Server) usageStats(c *fiber.Ctx) error {
	stats, err := s.engine.GetUsageStats(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *Server) checkUsage(c *fiber.Ctx) error {
	feature, err := featureParam(c)
	if err != nil {
		return err
	}
	result, err := s.engine.CheckUsageLimit(c.UserContext(), currentUser(c), feature)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// consume records one use of the feature, refusing it when the plan does
// not allow another.
func (s *Server) consume(c *fiber.Ctx) error {
	feature, err := featureParam(c)
	if err != nil {
		return err
	}
	result, err := s.engine.TryConsume(c.UserContext(), currentUser(c), feature)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
