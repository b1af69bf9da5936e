package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/middlewares"
	"github.com/mmdatafocus/lg_backend/migration"
	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

const defaultPort = "8080"

// RateLimiter throttles requests per client IP using a redis counter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "RateLimit:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// requestContext resolves the session user into a tenant-stamped context.
func requestContext(c *gin.Context) (context.Context, error) {
	return models.SessionUserContext(c.Request.Context())
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		user, token, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": user, "token": token})
	}
}

func idParam(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeModelError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, utils.ErrorRecordNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// registerReferenceRoutes wires the thin reference-data endpoints the field
// resolver depends on. Each handler follows the same resolve/bind/dispatch
// shape.
func registerReferenceRoutes(rg *gin.RouterGroup) {
	rg.GET("/banks", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		banks, err := models.GetBanks(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": banks})
	})
	rg.POST("/banks", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewBank
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bank, err := models.CreateBank(ctx, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": bank})
	})
	rg.PUT("/banks/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.NewBank
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bank, err := models.UpdateBank(ctx, id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": bank})
	})
	rg.DELETE("/banks/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bank, err := models.DeleteBank(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": bank})
	})

	rg.GET("/currencies", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		currencies, err := models.GetCurrencies(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": currencies})
	})
	rg.POST("/currencies", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewCurrency
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		currency, err := models.CreateCurrency(ctx, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": currency})
	})
	rg.PUT("/currencies/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.NewCurrency
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		currency, err := models.UpdateCurrency(ctx, id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": currency})
	})
	rg.DELETE("/currencies/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		currency, err := models.DeleteCurrency(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": currency})
	})

	rg.GET("/categories", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		categories, err := models.GetLgCategories(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": categories})
	})
	rg.POST("/categories", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewLgCategory
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		category, err := models.CreateLgCategory(ctx, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": category})
	})
	rg.PUT("/categories/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.NewLgCategory
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		category, err := models.UpdateLgCategory(ctx, id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": category})
	})
	rg.DELETE("/categories/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		category, err := models.DeleteLgCategory(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": category})
	})

	rg.GET("/lg-records", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		records, err := models.GetLgRecords(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": records})
	})
	rg.GET("/lg-records/:id", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		record, err := models.GetLgRecord(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": record})
	})
	rg.GET("/lg-records/:id/documents", func(c *gin.Context) {
		ctx, err := requestContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := idParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		documents, err := models.GetDocuments(ctx, models.DocumentReferenceTypeLgRecord, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": documents})
	})
}

func main() {
	_ = godotenv.Load()

	logger := config.GetLogger()

	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := gin.New()

	// correlation id: honor the caller's header, otherwise mint one
	r.Use(func(c *gin.Context) {
		correlationID := c.GetHeader("x-correlation-id")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("x-correlation-id", correlationID)
		c.Next()
	})

	// readiness gate: the server listens before the database and redis are
	// connected, so non-health traffic gets 503 until both are up
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service warming up"})
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	corsConfig := cors.DefaultConfig()
	if os.Getenv("GIN_MODE") == "release" {
		allowed := splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS"))
		if len(allowed) > 0 {
			corsConfig.AllowOrigins = allowed
		} else {
			corsConfig.AllowAllOrigins = true
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	if !corsConfig.AllowAllOrigins {
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))

	if os.Getenv("RATE_LIMIT_ENABLED") == "true" {
		limit := int64(100)
		if v, err := strconv.ParseInt(os.Getenv("RATE_LIMIT_PER_MINUTE"), 10, 64); err == nil && v > 0 {
			limit = v
		}
		r.Use(func(c *gin.Context) {
			client := config.GetRedisDB()
			if client == nil {
				c.Next()
				return
			}
			NewRateLimiter(client, limit, time.Minute).RateLimitMiddleware(c)
		})
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.NoRoute(customNotFoundHandler)

	r.POST("/login", loginHandler())

	api := r.Group("/api")
	registerReferenceRoutes(api)
	migration.RegisterRoutes(api.Group("/migration"))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"port": port}).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// connect after listen: Cloud Run style startup must not block the port
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if os.Getenv("SKIP_MIGRATIONS") != "true" {
		models.MigrateTable()
	}

	// snapshot grouping and duplicate checks read rows the same request wrote;
	// READ COMMITTED keeps those reads from blocking on gap locks
	for i := 0; i < 5; i++ {
		db := config.GetDB()
		if db == nil {
			time.Sleep(2 * time.Second)
			continue
		}
		if err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error; err != nil {
			config.LogError(logger, "server.go", "main", "set isolation level", nil, err)
			time.Sleep(2 * time.Second)
			continue
		}
		break
	}

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		config.LogError(logger, "server.go", "main", "http server", nil, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		config.LogError(logger, "server.go", "main", "graceful shutdown", nil, err)
	}

	if client := config.GetRedisDB(); client != nil {
		_ = client.Close()
	}
	logger.Info("server stopped")
}
