// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package statusapi exposes a small read-only HTTP view of the running
// bridge for fleet health checks and on-site debugging. It never accepts
// commands; the serial bus has exactly one owner.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Thermoquad/mdbridge/pkg/bridge"
	"github.com/Thermoquad/mdbridge/pkg/journal"
)

// Server serves the status endpoints.
type Server struct {
	snapshot func() bridge.Snapshot
	store    *journal.Store // optional

	httpSrv *http.Server
}

// New builds a server reading live state through snapshot. A nil store
// disables the recent-vend listing.
func New(snapshot func() bridge.Snapshot, store *journal.Store) *Server {
	return &Server{snapshot: snapshot, store: store}
}

// Handler returns the HTTP handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	r.GET("/vends", func(c *gin.Context) {
		if s.store == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		recs, err := s.store.Recent(50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, recs)
	})

	return r
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
