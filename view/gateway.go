package view

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-session-relay/broadcast"
	"github.com/jrsteele09/go-session-relay/identity"
	"github.com/jrsteele09/go-session-relay/sessions"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/jrsteele09/go-session-relay/watcher"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	maxFrameBytes     = 4096
	sendQueueSize     = 16
	writeTimeout      = 5 * time.Second
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 10 * time.Second
)

// SessionClient is the identity client a view uses for the commands it can send.
type SessionClient interface {
	identity.Provider
	Refresh(ctx context.Context) (*sessions.Session, error)
	SignOut(ctx context.Context) error
}

// Lifecycle is told when views mount and unmount. It is optional.
type Lifecycle interface {
	ViewMounted()
	ViewUnmounted()
}

// Options configures a Gateway.
type Options struct {
	// Store and Bus are shared by every device; the gateway partitions them.
	Store storage.Store
	Bus   broadcast.Bus
	// NewClient builds the identity client of one view over its device's store.
	NewClient func(deviceStore storage.Store, viewID string) SessionClient
	// DeviceID identifies the browser profile a request comes from.
	DeviceID       func(r *http.Request) (string, bool)
	OriginPatterns []string

	PollInterval time.Duration
	Clock        clockwork.Clock
	Observer     watcher.Observer
	Lifecycle    Lifecycle
	Logger       zerolog.Logger
}

// Gateway mounts one session watcher per websocket connection. The
// connection is the view: it stays open as long as the tab shows the page,
// carries page visibility and focus in, and carries reload orders out.
type Gateway struct {
	opts Options
	log  zerolog.Logger
}

func NewGateway(opts Options) *Gateway {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = watcher.DefaultPollInterval
	}
	return &Gateway{opts: opts, log: opts.Logger.With().Str("component", "view").Logger()}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := g.opts.DeviceID(r)
	if !ok {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.opts.OriginPatterns})
	if err != nil {
		g.log.Info().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	viewID := ulid.Make().String()
	log := g.log.With().Str("view_id", viewID).Str("device_id", deviceID).Logger()

	if err := g.serve(r.Context(), conn, deviceID, viewID, log); err != nil {
		log.Info().Err(err).Msg("view closed")
		_ = conn.Close(websocket.StatusInternalError, "view failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, deviceID, viewID string, log zerolog.Logger) error {
	deviceStore := storage.Partition(g.opts.Store, deviceID)
	client := g.opts.NewClient(deviceStore, viewID)
	page := watcher.NewPageEmitter()
	send := make(chan ServerMessage, sendQueueSize)

	enqueue := func(msg ServerMessage) {
		select {
		case send <- msg:
		default:
			log.Warn().Str("type", msg.Type).Msg("send queue full, dropping frame")
		}
	}

	w, err := watcher.New(watcher.Deps{
		Provider: client,
		Storage:  deviceStore,
		Bus:      broadcast.Scoped(g.opts.Bus, deviceID),
		Page:     page,
		Reloader: watcher.ReloaderFunc(func(reason watcher.Trigger) {
			enqueue(ServerMessage{Type: TypeReload, Reason: string(reason)})
		}),
		Origin: viewID,
	},
		watcher.WithClock(g.opts.Clock),
		watcher.WithPollInterval(g.opts.PollInterval),
		watcher.WithObserver(g.opts.Observer),
		watcher.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("[Gateway serve] %w", err)
	}

	enqueue(ServerMessage{Type: TypeHello, ViewID: viewID})
	if err := w.Mount(ctx); err != nil {
		return fmt.Errorf("[Gateway serve] mount: %w", err)
	}
	if g.opts.Lifecycle != nil {
		g.opts.Lifecycle.ViewMounted()
		defer g.opts.Lifecycle.ViewUnmounted()
	}
	defer w.Unmount()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return writeLoop(gctx, conn, send) })
	group.Go(func() error { return heartbeat(gctx, conn) })
	group.Go(func() error {
		err := g.readLoop(gctx, conn, client, page, enqueue)
		if isNormalClose(err) {
			// the tab went away; stop the writer and heartbeat too
			return errPeerClosed
		}
		return err
	})

	if err := group.Wait(); err != nil && !errors.Is(err, errPeerClosed) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var errPeerClosed = errors.New("peer closed")

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client SessionClient, page *watcher.PageEmitter, enqueue func(ServerMessage)) error {
	for {
		// wsjson closes the connection itself on a malformed frame
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		switch msg.Type {
		case TypeVisibility:
			if msg.Visible == nil {
				enqueue(errorMessage("bad_frame", "visibility requires visible"))
				continue
			}
			page.SetVisible(*msg.Visible)
		case TypeFocus:
			page.Focus()
		case TypeRefresh:
			if _, err := client.Refresh(ctx); err != nil {
				enqueue(errorMessage("refresh_failed", err.Error()))
			}
		case TypeSignOut:
			if err := client.SignOut(ctx); err != nil {
				enqueue(errorMessage("signout_failed", err.Error()))
			}
		default:
			enqueue(errorMessage("unsupported", fmt.Sprintf("unsupported type: %s", msg.Type)))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("write %s: %w", msg.Type, err)
			}
		}
	}
}

func heartbeat(ctx context.Context, conn *websocket.Conn) error {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
