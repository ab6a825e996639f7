// controller-sim is a development stand-in for the remote controller:
// it authenticates agents at /auth, accepts the WebSocket dock, prints
// every frame an agent sends, and can push update and stats requests.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/irgordon/uplink/internal/transport"
)

type controller struct {
	logger     *slog.Logger
	secret     []byte
	key        string
	updateFile string
	limiter    *rate.Limiter

	upgrader websocket.Upgrader
}

type authRequest struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type dockClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	key := flag.String("key", "dev-key", "shared key agents must present")
	updateFile := flag.String("update-file", "", "binary to push as a live update to every agent that docks")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	c := &controller{
		logger:     logger,
		secret:     []byte(uuid.NewString()),
		key:        *key,
		updateFile: *updateFile,
		// Auth is cheap to spam; cap bursts from misconfigured fleets.
		limiter: rate.NewLimiter(rate.Every(time.Second), 10),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Post("/auth", c.handleAuth)
	r.Get("/dock", c.handleDock)

	logger.Info("controller-sim listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		logger.Error("server crashed", "error", err)
		os.Exit(1)
	}
}

// handleAuth verifies the shared key and answers with a short-lived
// bearer token the agent presents at /dock.
func (c *controller) handleAuth(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow() {
		http.Error(w, "slow down", http.StatusServiceUnavailable)
		return
	}

	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed auth body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Key != c.key {
		c.logger.Warn("auth rejected", "node", req.ID)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}

	claims := dockClaims{
		NodeID: req.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "controller-sim",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		http.Error(w, "token mint failed", http.StatusInternalServerError)
		return
	}

	c.logger.Info("auth success", "node", req.ID)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(signed))
}

// handleDock verifies the bearer token and upgrades to the control
// WebSocket.
func (c *controller) handleDock(w http.ResponseWriter, r *http.Request) {
	nodeID, err := c.verifyBearer(r)
	if err != nil {
		c.logger.Warn("dock rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error("upgrade failed", "error", err)
		return
	}
	c.logger.Info("agent docked", "node", nodeID)
	go c.pump(ws, nodeID)
}

func (c *controller) verifyBearer(r *http.Request) (string, error) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", fmt.Errorf("missing bearer token")
	}
	token, err := jwt.ParseWithClaims(auth[len(prefix):], &dockClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*dockClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid claims")
	}
	return claims.NodeID, nil
}

// pump logs every frame the agent sends and periodically asks for
// stats.
func (c *controller) pump(ws *websocket.Conn, nodeID string) {
	defer ws.Close()

	parser := transport.NewParser(func(f *transport.Frame) {
		switch f.Code() {
		case transport.CodeIdent, transport.CodeUplink, transport.CodeStats:
			c.logger.Info("frame", "node", nodeID, "code", f.Code().String(), "cargo", f.Message())
		case transport.CodeLog:
			c.logger.Info("agent log", "node", nodeID, "text", f.Message())
		case transport.CodePanic:
			c.logger.Error("agent panic", "node", nodeID, "reason", f.Message())
		case transport.CodeUpdate:
			c.logger.Info("update ack", "node", nodeID, "sha1", f.Message())
		default:
			c.logger.Warn("frame", "node", nodeID, "code", f.Code().String(), "bytes", f.CargoLen())
		}
	})

	if c.updateFile != "" {
		if image, err := os.ReadFile(c.updateFile); err == nil {
			c.logger.Info("pushing update", "node", nodeID, "bytes", len(image))
			if err := ws.WriteMessage(websocket.BinaryMessage,
				transport.Encode(transport.CodeUpdate, image)); err != nil {
				return
			}
		} else {
			c.logger.Error("cannot read update file", "error", err)
		}
	}

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()
	go func() {
		for range statsTicker.C {
			req := transport.Encode(transport.CodeStats, nil)
			if err := ws.WriteMessage(websocket.BinaryMessage, req); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Info("agent disconnected", "node", nodeID, "error", err.Error())
			return
		}
		parser.Parse(data)
	}
}
