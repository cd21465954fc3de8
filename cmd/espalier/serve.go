package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/espalier-db/espalier/nestedset"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"gorm.io/gorm"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "expose the item trees over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "api-listen",
			Value:   ":8700",
			EnvVars: []string{"ESPALIER_API_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "env",
			Value:   "dev",
			Usage:   "declared environment for telemetry",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "otel-exporter-otlp-endpoint",
			EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
		},
	},
	Action: runServe,
}

type Server struct {
	echo  *echo.Echo
	httpd *http.Server
	db    *gorm.DB
	tree  *nestedset.Tree
}

func runServe(cctx *cli.Context) error {
	if ep := cctx.String("otel-exporter-otlp-endpoint"); ep != "" {
		log.Info("setting up trace exporter", "endpoint", ep)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := exp.Shutdown(ctx); err != nil {
				log.Error("failed to shut down trace exporter", "err", err)
			}
		}()

		tp := tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exp),
			tracesdk.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String("espalier"),
				attribute.String("env", cctx.String("env")),
			)),
		)
		otel.SetTracerProvider(tp)
	}

	db, tree, err := setupStore(cctx)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(log))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	srv := &Server{
		echo: e,
		db:   db,
		tree: tree,
	}
	srv.httpd = &http.Server{
		Handler:      e,
		Addr:         cctx.String("api-listen"),
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
	}

	e.GET("/_health", srv.handleHealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/items", srv.handleCreateItem)
	e.GET("/items/:id", srv.handleGetItem)
	e.DELETE("/items/:id", srv.handleDeleteItem)
	e.POST("/items/:id/move", srv.handleMoveItem)
	e.GET("/items/:id/parent", srv.handleItemParent)
	e.GET("/items/:id/level", srv.handleItemLevel)
	e.GET("/items/:id/:rel", srv.handleItemRelated)

	e.POST("/rebuild", srv.handleRebuild)
	e.GET("/tree", srv.handleTree)

	log.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		log.Info("received OS exit signal", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.httpd.Shutdown(ctx); err != nil {
			log.Error("HTTP server shutdown error", "err", err)
		}

		close(quit)
	}()
	<-quit
	log.Info("graceful shutdown complete")
	return nil
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (srv *Server) handleHealthCheck(c echo.Context) error {
	return c.JSON(200, GenericStatus{Daemon: "espalier", Status: "ok", Version: versioninfo.Short()})
}

type itemView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Scope    string `json:"scope,omitempty"`
	ParentID int64  `json:"parentId,omitempty"`
	Lft      int    `json:"lft"`
	Rgt      int    `json:"rgt"`
	Lvl      int    `json:"lvl"`
	Leaf     bool   `json:"leaf"`
	Built    bool   `json:"built"`
}

func nodeView(n *nestedset.Node, name string) itemView {
	return itemView{
		ID:       n.ID,
		Name:     name,
		Scope:    n.Scope,
		ParentID: n.ParentID,
		Lft:      n.Lft,
		Rgt:      n.Rgt,
		Lvl:      n.Lvl,
		Leaf:     n.Span().Defined() && n.IsLeaf(),
		Built:    n.Span().Defined(),
	}
}

// mapError folds the tree's sentinel errors into HTTP statuses.
func mapError(err error) error {
	switch {
	case errors.Is(err, nestedset.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "item not found")
	case errors.Is(err, nestedset.ErrNotLeaf):
		return echo.NewHTTPError(http.StatusConflict, "item still has children")
	}
	return err
}

func (srv *Server) loadParam(c echo.Context) (*Item, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	it, err := loadItem(srv.db, id)
	if err != nil {
		return nil, mapError(err)
	}
	return it, nil
}

type createItemRequest struct {
	Name     string `json:"name"`
	ParentID int64  `json:"parentId"`
	Scope    string `json:"scope"`
}

func (srv *Server) handleCreateItem(c echo.Context) error {
	var body createItemRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	it := Item{
		Name:  body.Name,
		Scope: body.Scope,
	}
	if body.ParentID != 0 {
		it.ParentID = &body.ParentID
	}
	if err := srv.db.Create(&it).Error; err != nil {
		return fmt.Errorf("creating item: %w", err)
	}

	node := itemNode(&it)
	if err := srv.tree.Attach(c.Request().Context(), node); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, nodeView(node, it.Name))
}

func (srv *Server) handleGetItem(c echo.Context) error {
	it, err := srv.loadParam(c)
	if err != nil {
		return err
	}
	return c.JSON(200, nodeView(itemNode(it), it.Name))
}

func (srv *Server) handleDeleteItem(c echo.Context) error {
	it, err := srv.loadParam(c)
	if err != nil {
		return err
	}
	if err := srv.tree.Detach(c.Request().Context(), itemNode(it)); err != nil {
		return mapError(err)
	}
	if err := srv.db.Delete(&Item{}, it.ID).Error; err != nil {
		return fmt.Errorf("deleting item %d: %w", it.ID, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type moveItemRequest struct {
	ParentID int64 `json:"parentId"`
}

func (srv *Server) handleMoveItem(c echo.Context) error {
	it, err := srv.loadParam(c)
	if err != nil {
		return err
	}
	var body moveItemRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	node := itemNode(it)
	if err := srv.tree.Move(c.Request().Context(), node, body.ParentID); err != nil {
		return mapError(err)
	}
	return c.JSON(200, nodeView(node, it.Name))
}

func (srv *Server) handleItemParent(c echo.Context) error {
	it, err := srv.loadParam(c)
	if err != nil {
		return err
	}
	parent, err := srv.tree.Parent(c.Request().Context(), itemNode(it), nil)
	if err != nil {
		return mapError(err)
	}
	names, err := itemNames(srv.db, []*nestedset.Node{parent})
	if err != nil {
		return err
	}
	return c.JSON(200, nodeView(parent, names[parent.ID]))
}

func (srv *Server) handleItemLevel(c echo.Context) error {
	it, err := srv.loadParam(c)
	if err != nil {
		return err
	}
	lvl, err := srv.tree.Level(c.Request().Context(), itemNode(it))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(200, map[string]int{"level": lvl})
}

var relations = map[string]bool{
	"children":             true,
	"self-and-children":    true,
	"siblings":             true,
	"self-and-siblings":    true,
	"ancestors":            true,
	"self-and-ancestors":   true,
	"descendants":          true,
	"self-and-descendants": true,
}

func (srv *Server) handleItemRelated(c echo.Context) error {
	if !relations[c.Param("rel")] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown relation")
	}
	it, err := srv.loadParam(c)
	if err != nil {
		return err
	}

	q := &nestedset.QueryOpts{
		Sort: []nestedset.SortKey{{Field: nestedset.FieldLft}},
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		q.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		q.Offset = n
	}

	nodes, err := related(c.Request().Context(), srv.tree, itemNode(it), c.Param("rel"), q)
	if err != nil {
		return mapError(err)
	}

	names, err := itemNames(srv.db, nodes)
	if err != nil {
		return err
	}
	views := make([]itemView, len(nodes))
	for i, n := range nodes {
		views[i] = nodeView(n, names[n.ID])
	}
	return c.JSON(200, views)
}

func (srv *Server) handleRebuild(c echo.Context) error {
	scope := c.QueryParam("scope")
	if err := srv.tree.RebuildAll(c.Request().Context(), scope); err != nil {
		return mapError(err)
	}
	return c.JSON(200, map[string]string{"scope": scope, "status": "rebuilt"})
}

func (srv *Server) handleTree(c echo.Context) error {
	out, err := renderForest(srv.db, c.QueryParam("scope"))
	if err != nil {
		return err
	}
	return c.String(200, out)
}
