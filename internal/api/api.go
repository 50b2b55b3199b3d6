// Package api exposes the query and streaming surface of spec.md
// §4.F/§6: a gin JSON router plus gorilla/websocket streaming endpoints,
// backed by internal/store.
//
// Route layout and handler shapes are grounded on the teacher's
// cmd/web/main.go (gin.Default router, gin-contrib/cors, JSON error DTOs)
// and on original_source/server/src/server/handlers.rs for the exact set
// of routes and their response shapes (Scalar/Scalars/Transaction/
// Transactions).
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/btcsuite/btclog"

	"github.com/nlowe-sp/spindex/internal/store"
)

var log btclog.Logger = btclog.Disabled

// UseLogger rebinds the package logger, called once during startup wiring.
func UseLogger(l btclog.Logger) { log = l }

// errorResponse is the JSON shape returned for 4xx/5xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wraps a gin engine bound to a Store.
type Server struct {
	engine *gin.Engine
	store  *store.Store
}

// New builds a Server with all routes registered.
func New(s *store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
	}))

	srv := &Server{engine: engine, store: s}
	srv.routes()
	return srv
}

// Run starts listening on addr, blocking until ctx is cancelled or the
// server errors.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Silent Payment Server")
	})
	s.engine.GET("/blocks/tip", s.getChainTip)
	s.engine.GET("/blocks/latest/scalars", s.getLatestScalars)
	s.engine.GET("/blocks/height/:height/scalars", s.getScalarsAtHeight)
	s.engine.GET("/transactions/:txid/scalar", s.getScalarByTxID)
	s.engine.GET("/blocks/latest/transactions", s.getLatestTransactions)
	s.engine.GET("/blocks/height/:height/transactions", s.getTransactionsAtHeight)
	s.engine.GET("/transactions/:txid", s.getTransaction)
	s.engine.GET("/ws/scalars", s.wsScalars)
	s.engine.GET("/ws/transactions", s.wsTransactions)
}

func (s *Server) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	log.Errorf("api: %v", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) getChainTip(c *gin.Context) {
	height, err := s.store.SyncedHeight(c.Request.Context())
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.String(http.StatusOK, "%d", height)
}

func (s *Server) getLatestScalars(c *gin.Context) {
	scalars, err := s.store.LatestScalars(c.Request.Context())
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scalars": scalars})
}

func (s *Server) getScalarsAtHeight(c *gin.Context) {
	height, ok := parseHeight(c)
	if !ok {
		return
	}
	scalars, err := s.store.ScalarsAtHeight(c.Request.Context(), height)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scalars": scalars})
}

func (s *Server) getScalarByTxID(c *gin.Context) {
	scalar, err := s.store.ScalarByTxID(c.Request.Context(), c.Param("txid"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scalar": scalar})
}

func (s *Server) getLatestTransactions(c *gin.Context) {
	txs, err := s.store.LatestTransactions(c.Request.Context())
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (s *Server) getTransactionsAtHeight(c *gin.Context) {
	height, ok := parseHeight(c)
	if !ok {
		return
	}
	txs, err := s.store.TransactionsAtHeight(c.Request.Context(), height)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.store.TransactionByTxID(c.Request.Context(), c.Param("txid"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func parseHeight(c *gin.Context) (uint64, bool) {
	var height uint64
	if _, err := fmt.Sscan(c.Param("height"), &height); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid height"})
		return 0, false
	}
	return height, true
}

// wsScalars streams each newly appended block's scalars, matching
// original_source/server/src/server/handlers.rs's ws_subscribe_socket:
// subscribe, forward until the client disconnects. Blocks with no eligible
// transactions produce no frame.
func (s *Server) wsScalars(c *gin.Context) {
	s.streamBlocks(c, func(block store.Block) (gin.H, bool) {
		if len(block.Transactions) == 0 {
			return nil, false
		}
		scalars := make([]string, len(block.Transactions))
		for i, tx := range block.Transactions {
			scalars[i] = tx.Scalar
		}
		return gin.H{"scalars": scalars}, true
	})
}

// wsTransactions streams each newly appended block's eligible transactions.
// Blocks with no eligible transactions produce no frame.
func (s *Server) wsTransactions(c *gin.Context) {
	s.streamBlocks(c, func(block store.Block) (gin.H, bool) {
		if len(block.Transactions) == 0 {
			return nil, false
		}
		return gin.H{"transactions": block.Transactions}, true
	})
}

// streamBlocks upgrades the connection, subscribes to the store's broadcast
// hub, and writes one frame per published block as built by frame. A frame
// builder that returns ok=false suppresses that block entirely.
func (s *Server) streamBlocks(c *gin.Context, frame func(store.Block) (gin.H, bool)) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.store.Subscribe()
	defer sub.Unsubscribe()

	for block := range sub.C() {
		payload, ok := frame(block)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(payload); err != nil {
			break
		}
	}
}
