package http

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/domain/autoload"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
)

// Version is reported by the root endpoint.
var Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	mgr     *dlmodule.Manager
	ops     dlmodule.Ops
	breaker *resilience.Breaker
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *zap.Logger
	started time.Time
}

type Option func(*Handlers)

// WithOps sets the image source used by POST /modules.
func WithOps(ops dlmodule.Ops) Option { return func(h *Handlers) { h.ops = ops } }

// WithBreaker reports the registry breaker on /health.
func WithBreaker(b *resilience.Breaker) Option { return func(h *Handlers) { h.breaker = b } }

func WithTracer(t *tracing.Tracer) Option { return func(h *Handlers) { h.tracer = t } }

func WithMetrics(m *monitoring.Metrics) Option { return func(h *Handlers) { h.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(h *Handlers) { h.logger = l } }

// NewHandlers creates a new handler set
func NewHandlers(mgr *dlmodule.Manager, opts ...Option) *Handlers {
	h := &Handlers{mgr: mgr, logger: zap.NewNop(), started: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the API on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/symbols", h.ListSymbols)

	mods := r.Group("/modules")
	mods.GET("", h.ListModules)
	mods.POST("", h.ExecModule)
	mods.GET("/:name", h.GetModule)
	mods.DELETE("/:name", h.DestroyModule)
	mods.GET("/:name/symbols/:symbol", h.ModuleSymbol)
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "dlkernel",
		"version": Version,
	})
}

// Health reports kernel occupancy and the registry breaker. An open
// breaker degrades health without failing it.
func (h *Handlers) Health(c *gin.Context) {
	k := h.mgr.Kernel()
	h.sample()

	body := gin.H{
		"status":  "healthy",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"modules": len(h.mgr.List()),
		"kernel": gin.H{
			"objects":   k.ObjectCount(),
			"threads":   len(k.Threads()),
			"defunct":   k.Defunct(),
			"heap_used": k.Heap().Used(),
			"heap_peak": k.Heap().Peak(),
			"heap_size": k.Heap().Size(),
		},
	}
	if h.breaker != nil {
		snap := h.breaker.Snapshot()
		body["registry"] = snap
		if snap.State == resilience.StateOpen.String() {
			body["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, body)
}

// Stats returns the module counters behind the Prometheus metrics.
func (h *Handlers) Stats(c *gin.Context) {
	h.sample()
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now(),
		"modules":   h.metrics.Snapshot(),
		"uptime_s":  time.Since(h.started).Seconds(),
	})
}

func (h *Handlers) sample() {
	k := h.mgr.Kernel()
	h.metrics.ObserveKernel(k.Heap().Used(), k.Heap().Peak(), len(k.Threads()))
}

// ListSymbols lists the kernel symbol table, optionally filtered by
// name prefix.
func (h *Handlers) ListSymbols(c *gin.Context) {
	prefix := c.Query("prefix")
	syms := make([]symtab.Symbol, 0)
	for _, s := range h.mgr.Symbols().Symbols() {
		if strings.HasPrefix(s.Name, prefix) {
			syms = append(syms, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"symbols": syms, "count": len(syms)})
}

// ListModules lists registered modules
func (h *Handlers) ListModules(c *gin.Context) {
	mods := h.mgr.List()
	infos := make([]dlmodule.Info, 0, len(mods))
	for _, mod := range mods {
		infos = append(infos, mod.Info())
	}
	c.JSON(http.StatusOK, gin.H{"modules": infos, "count": len(infos)})
}

type objectView struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Class  string `json:"class"`
	Static bool   `json:"static"`
}

// GetModule describes one module with its symbols and owned objects.
func (h *Handlers) GetModule(c *gin.Context) {
	mod, ok := h.find(c)
	if !ok {
		return
	}

	objs := mod.Objects()
	views := make([]objectView, 0, len(objs))
	for _, obj := range objs {
		o := obj.Header()
		views = append(views, objectView{ID: o.ID(), Name: o.Name(), Class: o.Class().String(), Static: o.IsStatic()})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"module":  mod.Info(),
		"symbols": mod.Symbols(),
		"objects": views,
	})
}

// ModuleSymbol resolves a name in one module's export table.
func (h *Handlers) ModuleSymbol(c *gin.Context) {
	mod, ok := h.find(c)
	if !ok {
		return
	}
	name := c.Param("symbol")
	addr, ok := dlmodule.Dlsym(mod, name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found", "symbol": name})
		return
	}
	c.JSON(http.StatusOK, symtab.Symbol{Name: name, Addr: addr})
}

// ExecRequest starts a module. Args follow the program name on the
// module's command line.
type ExecRequest struct {
	Path      string `json:"path" binding:"required"`
	Args      string `json:"args"`
	Priority  *int   `json:"priority"`
	StackSize *int   `json:"stack_size"`
}

// ExecModule loads and starts a module
func (h *Handlers) ExecModule(c *gin.Context) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := autoload.Entry{Path: req.Path, Args: req.Args, Priority: req.Priority, Stack: req.StackSize}
	if err := entry.Validate(); err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.tracer != nil {
		var span *tracing.Span
		span, ctx = h.tracer.Start(ctx, "module.exec")
		span.SetTag("path", req.Path)
		defer span.End()
		defer func() {
			if len(c.Errors) > 0 {
				span.SetError(c.Errors.Last())
			}
		}()
	}

	mod, err := h.mgr.ExecWith(ctx, entry.Path, entry.Cmdline(), h.ops, entry.Options()...)
	if err != nil {
		h.logger.Warn("Exec request failed", zap.String("path", req.Path), zap.Error(err))
		fail(c, err)
		return
	}
	c.Header("Location", "/modules/"+mod.Name())
	c.JSON(http.StatusCreated, gin.H{"module": mod.Info()})
}

// DestroyModule tears down a module that is not running.
func (h *Handlers) DestroyModule(c *gin.Context) {
	mod, ok := h.find(c)
	if !ok {
		return
	}
	if err := h.mgr.Destroy(c.Request.Context(), mod); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) find(c *gin.Context) (*dlmodule.Module, bool) {
	name := c.Param("name")
	mod, ok := h.mgr.Find(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found", "name": name})
		return nil, false
	}
	return mod, true
}
