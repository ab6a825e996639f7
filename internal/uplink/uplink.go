// Package uplink implements the control agent that authenticates to a
// remote controller, docks over WebSocket, reports identity and
// statistics, streams logs, and ingests live binary updates.
package uplink

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/irgordon/uplink/internal/httpx"
	"github.com/irgordon/uplink/internal/stats"
	"github.com/irgordon/uplink/internal/transport"
	"github.com/irgordon/uplink/internal/uplog"
)

const (
	heartbeatInterval = 10 * time.Second
	pongWait          = 5 * time.Second
	heartbeatRetries  = 3
	authTimeout       = 15 * time.Second
	backoffUnit       = 5 * time.Second
	maxBackoff        = 6
)

// State is the uplink session state.
type State int32

const (
	StateUnconfigured State = iota
	StateAuthenticating
	StateDocking
	StateLive
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateAuthenticating:
		return "authenticating"
	case StateDocking:
		return "docking"
	case StateLive:
		return "live"
	case StateRecovering:
		return "recovering"
	}
	return "unknown"
}

// sessionEnd says why a live session terminated.
type sessionEnd int

const (
	endReauth sessionEnd = iota
	endRedock
	endUpdate
	endShutdown
)

// Params carries the uplink's dependencies.
type Params struct {
	Config  Config
	Service string
	Version string

	Logger    *slog.Logger
	LogBuffer *uplog.Buffer
	Stats     *stats.Registry

	// LiveUpdate applies a received image. A nil return means the new
	// image took over and the uplink's job is done. Restore is invoked
	// when it fails, before the control loop resumes.
	LiveUpdate func([]byte) error
	Restore    func()

	// PanicLog, when set, is consulted once per dock; a recorded panic
	// from a previous run is replayed to the controller and cleared.
	PanicLog func() ([]byte, bool)
}

// Uplink is the control-plane state machine.
type Uplink struct {
	cfg     Config
	service string
	version string
	id      string

	client  *httpx.Client
	tlsConf *tls.Config
	logger  *slog.Logger
	logbuf  *uplog.Buffer
	reg     *stats.Registry

	liveUpdate func([]byte) error
	restore    func()
	panicLog   func() ([]byte, bool)

	// Timing knobs, defaulted from the package constants; tests shrink
	// them.
	heartbeatEvery time.Duration
	pongWait       time.Duration
	backoffUnit    time.Duration

	mu              sync.Mutex
	state           State
	token           string
	binaryHash      string
	updateHash      string
	retryBackoff    int
	updateTimeTaken uint64
	logOverflow     []byte
	ws              *websocket.Conn

	writeMu sync.Mutex

	statReauths *stats.Counter
	statUpdates *stats.Counter
}

// New builds an uplink from its parameters. The log buffer's flush
// handler is pointed at the uplink's websocket log path.
func New(p Params) (*Uplink, error) {
	base, err := url.Parse(p.Config.URL)
	if err != nil {
		return nil, fmt.Errorf("uplink: bad controller url: %w", err)
	}

	u := &Uplink{
		cfg:        p.Config,
		service:    p.Service,
		version:    p.Version,
		id:         nodeID(),
		logger:     p.Logger,
		logbuf:     p.LogBuffer,
		reg:        p.Stats,
		liveUpdate: p.LiveUpdate,
		restore:    p.Restore,
		panicLog:   p.PanicLog,
		state:      StateUnconfigured,

		heartbeatEvery: heartbeatInterval,
		pongWait:       pongWait,
		backoffUnit:    backoffUnit,

		statReauths: p.Stats.Counter("uplink.reauths"),
		statUpdates: p.Stats.Counter("uplink.updates"),
	}

	if httpx.SchemeIsSecure(base) {
		u.tlsConf, err = clientTLSConfig(p.Config)
		if err != nil {
			return nil, err
		}
		u.client = httpx.NewSecureClient(u.tlsConf, p.Logger)
	} else {
		u.client = httpx.NewClient(p.Logger)
	}
	u.client.OnSend(u.injectToken)

	if u.logbuf != nil {
		u.logbuf.SetFlushHandler(u.sendLog)
	}
	return u, nil
}

// nodeID prefers the stable machine id, falling back to a fresh uuid.
func nodeID() string {
	if info, err := host.Info(); err == nil && info.HostID != "" {
		return info.HostID
	}
	return uuid.NewString()
}

// clientTLSConfig loads the certificate pool from the configured path.
func clientTLSConfig(cfg Config) (*tls.Config, error) {
	tc := &tls.Config{InsecureSkipVerify: !cfg.VerifyCerts}
	if cfg.CertsPath == "" {
		return tc, nil
	}
	pool := x509.NewCertPool()
	loaded := 0
	for _, pattern := range []string{"*.pem", "*.crt"} {
		files, _ := filepath.Glob(filepath.Join(cfg.CertsPath, pattern))
		for _, f := range files {
			pem, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			if pool.AppendCertsFromPEM(pem) {
				loaded++
			}
		}
	}
	if loaded == 0 {
		return nil, fmt.Errorf("uplink: no usable certificates under %s", cfg.CertsPath)
	}
	tc.RootCAs = pool
	return tc, nil
}

// injectToken is the client's pre-send hook: while a bearer token is
// held, every outbound request carries it.
func (u *Uplink) injectToken(req *httpx.Request, _ *httpx.Options, _ string) {
	u.mu.Lock()
	token := u.token
	u.mu.Unlock()
	if token != "" {
		req.Header().SetField("Authorization", "Bearer "+token)
	}
}

// State returns the current session state.
func (u *Uplink) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Uplink) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// Backoff returns the current retry multiplier (0..6).
func (u *Uplink) Backoff() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.retryBackoff
}

// SetResumed records state carried over a live update: the hash of the
// now-running binary and how long the swap took.
func (u *Uplink) SetResumed(binaryHash string, timeTaken uint64) {
	u.mu.Lock()
	u.binaryHash = binaryHash
	u.updateTimeTaken = timeTaken
	u.mu.Unlock()
}

// Run drives the control loop: authenticate, dock, stay live, recover.
// It returns nil after a successful live update, or the context error
// on shutdown.
func (u *Uplink) Run(ctx context.Context) error {
	needAuth := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if needAuth {
			if err := u.authenticate(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				u.logger.Info("auth failed", slog.String("error", err.Error()))
				if !u.waitBackoff(ctx) {
					return ctx.Err()
				}
				continue
			}
		}

		ws, err := u.dock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.logger.Info("dock failed", slog.String("error", err.Error()))
			needAuth = true
			if !u.waitBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		end, image := u.live(ctx, ws)
		switch end {
		case endShutdown:
			return ctx.Err()
		case endRedock:
			needAuth = false
		case endUpdate:
			if err := u.execUpdate(image); err == nil {
				return nil
			}
			needAuth = true
		default:
			u.statReauths.Inc()
			needAuth = true
		}
	}
}

// waitBackoff sleeps 5·backoff seconds, bumping the clamped multiplier
// first. It reports false when the context ended the wait.
func (u *Uplink) waitBackoff(ctx context.Context) bool {
	u.mu.Lock()
	if u.retryBackoff < maxBackoff {
		u.retryBackoff++
	}
	wait := time.Duration(u.retryBackoff) * u.backoffUnit
	u.mu.Unlock()

	u.logger.Info("retrying auth", slog.Duration("in", wait))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

type authRequest struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// authenticate POSTs the node identity and stores the bearer token the
// controller returns. The token is written before the state moves to
// Docking so the pre-send hook always observes the latest value.
func (u *Uplink) authenticate(ctx context.Context) error {
	u.setState(StateAuthenticating)

	body, err := json.Marshal(authRequest{ID: u.id, Key: u.cfg.Token})
	if err != nil {
		return err
	}

	authURL := endpointURL(u.cfg.URL, "/auth")
	u.logger.Info("sending auth request", slog.String("url", authURL))

	res, err := u.client.Post(ctx, authURL, "application/json", body,
		httpx.Options{Timeout: authTimeout})
	if err != nil {
		return err
	}
	if res.Status != httpx.StatusOK || len(res.Body()) == 0 {
		return fmt.Errorf("auth rejected: status %d", res.Status)
	}

	u.mu.Lock()
	u.token = string(res.Body())
	u.retryBackoff = 0
	u.mu.Unlock()

	u.logger.Info("auth success, token received")
	return nil
}

// dock opens the control WebSocket, derived from the auth URL by scheme
// substitution and the /dock path.
func (u *Uplink) dock(ctx context.Context) (*websocket.Conn, error) {
	u.setState(StateDocking)

	wsURL, err := dockURL(u.cfg.URL)
	if err != nil {
		return nil, err
	}
	u.logger.Info("dock attempt", slog.String("url", wsURL))

	hdr := http.Header{}
	u.mu.Lock()
	if u.token != "" {
		hdr.Set("Authorization", "Bearer "+u.token)
	}
	u.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: authTimeout,
		TLSClientConfig:  u.tlsConf,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// endpointURL appends an endpoint path to the controller base URL.
func endpointURL(base, endpoint string) string {
	return strings.TrimSuffix(base, "/") + endpoint
}

// dockURL swaps http→ws / https→wss and points at /dock.
func dockURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if httpx.SchemeIsSecure(u) {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/dock"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// live runs one docked session until it ends. On endUpdate the received
// image is returned for execution.
func (u *Uplink) live(ctx context.Context, ws *websocket.Conn) (sessionEnd, []byte) {
	u.mu.Lock()
	u.ws = ws
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.ws = nil
		u.mu.Unlock()
		ws.Close()
	}()

	alive := make(chan struct{}, 1)
	signalAlive := func() {
		select {
		case alive <- struct{}{}:
		default:
		}
	}
	ws.SetPongHandler(func(string) error { signalAlive(); return nil })
	// A ping from the controller also proves the link; answer it and
	// count it.
	ws.SetPingHandler(func(appData string) error {
		signalAlive()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(u.pongWait))
	})

	// The session context releases the read pump when live returns,
	// even if nobody is left to consume its frames.
	sctx, scancel := context.WithCancel(ctx)
	defer scancel()

	frames := make(chan *transport.Frame)
	readErr := make(chan error, 1)
	parser := transport.NewParser(func(f *transport.Frame) {
		select {
		case frames <- f:
		case <-sctx.Done():
		}
	})
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			parser.Parse(data)
		}
	}()

	if err := u.sendIdent(); err != nil {
		u.logger.Info("ident send failed", slog.String("error", err.Error()))
		return endReauth, nil
	}
	if err := u.sendUplink(); err != nil {
		return endReauth, nil
	}
	u.flushLogs()

	if u.panicLog != nil {
		if log, ok := u.panicLog(); ok {
			u.logger.Info("replaying panic from previous run")
			u.sendFrame(transport.CodePanic, log)
		}
	}

	u.setState(StateLive)
	u.logger.Info("websocket established, uplink live")

	lastSeen := time.Now()
	retriesLeft := heartbeatRetries
	pingOutstanding := false
	var pongDeadline <-chan time.Time

	heartbeat := time.NewTicker(u.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return endShutdown, nil

		case <-readErr:
			// Peer closed or the link broke; start over from auth.
			return endReauth, nil

		case f := <-frames:
			switch f.Code() {
			case transport.CodeUpdate:
				u.logger.Info("update received", slog.Int("bytes", f.CargoLen()))
				image := u.acceptUpdate(ws, f.Cargo())
				return endUpdate, image

			case transport.CodeStats:
				u.sendStats()

			default:
				u.sendError(fmt.Sprintf("unexpected transport %s", f.Code()))
				return endRedock, nil
			}

		case <-alive:
			lastSeen = time.Now()
			retriesLeft = heartbeatRetries
			pingOutstanding = false
			pongDeadline = nil

		case <-pongDeadline:
			pongDeadline = nil
			if pingOutstanding {
				pingOutstanding = false
				retriesLeft--
				u.logger.Info("pong timeout", slog.Int("retries_left", retriesLeft))
			}

		case <-heartbeat.C:
			if time.Since(lastSeen) <= u.heartbeatEvery {
				break
			}
			if retriesLeft <= 0 {
				u.logger.Info("heartbeat exhausted, reauthenticating")
				return endReauth, nil
			}
			if pingOutstanding {
				break
			}
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(u.pongWait))
			if err != nil {
				u.logger.Info("heartbeat ping failed", slog.String("error", err.Error()))
				return endReauth, nil
			}
			pingOutstanding = true
			pongDeadline = time.After(u.pongWait)
		}
	}
}

// acceptUpdate acknowledges a received image with its SHA-1 checksum,
// drains the logs, and closes the session cleanly so the swap can
// proceed with nothing in flight.
func (u *Uplink) acceptUpdate(ws *websocket.Conn, image []byte) []byte {
	sum := sha1.Sum(image)
	hash := hex.EncodeToString(sum[:])

	u.mu.Lock()
	u.updateHash = hash
	u.mu.Unlock()

	u.sendFrame(transport.CodeUpdate, []byte(hash))
	u.flushLogs()

	u.writeMu.Lock()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "updating"),
		time.Now().Add(u.pongWait))
	u.writeMu.Unlock()
	ws.Close()

	return image
}

// execUpdate hands the image to the live-update mechanism. On failure
// the restore hook runs and the control loop resumes from auth.
func (u *Uplink) execUpdate(image []byte) error {
	u.statUpdates.Inc()
	if u.liveUpdate == nil {
		return fmt.Errorf("uplink: no live-update mechanism installed")
	}
	if err := u.liveUpdate(image); err != nil {
		u.logger.Error("live update failed", slog.String("error", err.Error()))
		if u.restore != nil {
			u.restore()
		}
		u.setState(StateRecovering)
		return err
	}
	return nil
}

// sendFrame writes one transport frame when the session is online.
func (u *Uplink) sendFrame(code transport.Code, cargo []byte) error {
	u.mu.Lock()
	ws := u.ws
	u.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("uplink: not online")
	}
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return ws.WriteMessage(websocket.BinaryMessage, transport.Encode(code, cargo))
}

// sendError reports a short diagnostic to the controller.
func (u *Uplink) sendError(reason string) {
	u.sendFrame(transport.CodeError, []byte(reason))
}

// SendAppData forwards an application payload over the control channel.
func (u *Uplink) SendAppData(data []byte) error {
	return u.sendFrame(transport.CodeAppdata, data)
}

// SendPanic reports a panic reason; callers should let the platform
// reboot policy take effect afterwards.
func (u *Uplink) SendPanic(reason string) {
	u.sendFrame(transport.CodePanic, []byte(reason))
}

// sendLog is the log buffer's flush handler. When the socket is down
// the bytes divert to the overflow queue drained on the next dock.
func (u *Uplink) sendLog(data []byte) {
	if !u.cfg.WSLogging {
		return
	}
	if err := u.sendFrame(transport.CodeLog, data); err != nil {
		u.mu.Lock()
		u.logOverflow = append(u.logOverflow, data...)
		u.mu.Unlock()
	}
}

// flushLogs drains the offline overflow and whatever the ring holds.
func (u *Uplink) flushLogs() {
	u.mu.Lock()
	overflow := u.logOverflow
	u.logOverflow = nil
	u.mu.Unlock()

	if len(overflow) > 0 && u.cfg.WSLogging {
		u.sendFrame(transport.CodeLog, overflow)
	}
	if u.logbuf != nil {
		u.logbuf.Flush()
	}
}

// sendUplink reports the active configuration.
func (u *Uplink) sendUplink() error {
	u.logger.Info("sending uplink config")
	blob, err := json.Marshal(u.cfg)
	if err != nil {
		return err
	}
	return u.sendFrame(transport.CodeUplink, blob)
}
