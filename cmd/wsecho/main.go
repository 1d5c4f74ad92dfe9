// Command wsecho is a reference host for the websocket engine: it upgrades
// incoming connections, registers them, and serves a small text command
// vocabulary over the resulting socket (send-exit, send-connection-count,
// and an "echo: "-prefixed echo fallback), in the same role as the reference IIS
// module's sample test harness.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/sullewarehouse/iiswebsocketserver/internal/wslog"
	"github.com/sullewarehouse/iiswebsocketserver/metrics"
	"github.com/sullewarehouse/iiswebsocketserver/registry"
	"github.com/sullewarehouse/iiswebsocketserver/websocket"
)

// registryID is a type alias so registerOrLog can hand back an *id without
// importing registry's ConnID alias chain twice at the call site.
type registryID = registry.ConnID

func newConnID() registryID {
	return uuid.New()
}

func main() {
	cmd := &cli.Command{
		Name:  "wsecho",
		Usage: "reference WebSocket echo host for the iiswebsocketserver engine",
		Flags: flags(configFile()),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsecho: %v\n", err)
		os.Exit(1)
	}
}

// configFile locates the TOML config file flags may be sourced from,
// without requiring it to exist: absent optional values simply fall back
// to their flag defaults.
func configFile() altsrc.StringSourcer {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return altsrc.StringSourcer(filepath.Join(dir, "wsecho", "config.toml"))
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := wslog.New()
	if cmd.Bool("pretty-log") {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	ctx = wslog.InContext(ctx, log)

	reg := registry.New()
	promReg := prometheus.NewRegistry()
	collectors := metrics.New(promReg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", newEchoHandler(ctx, reg, collectors, uint64(cmd.Int("max-payload-length"))))

	addr := cmd.String("addr")
	log.Info().Str("addr", addr).Msg("wsecho listening")

	server := &http.Server{Addr: addr, Handler: mux}
	return server.ListenAndServe()
}

func newEchoHandler(ctx context.Context, reg *registry.Registry, collectors *metrics.Collectors, maxPayloadLength uint64) http.HandlerFunc {
	log := wslog.FromContext(ctx)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, &websocket.UpgradeOptions{
			MaxPayloadLength: maxPayloadLength,
			Metrics:          collectors,
		})
		if err != nil {
			log.Warn().Err(err).Msg("handshake rejected")
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		defer conn.Free()

		id := registerOrLog(log, reg, conn)
		defer func() {
			if id != nil {
				reg.RemoveByID(*id)
			}
		}()

		connLog := log
		if id != nil {
			connLog = wslog.WithConn(log, id.String())
		}
		connLog.Info().Str("remote", r.RemoteAddr).Msg("connection upgraded")

		serveEcho(connLog, conn, reg)
	}
}

func registerOrLog(log zerolog.Logger, reg *registry.Registry, conn *websocket.Conn) *registryID {
	id := newConnID()
	if !reg.Add(id, conn) {
		log.Warn().Msg("registry add failed or timed out, continuing unregistered")
		return nil
	}
	rid := registryID(id)
	return &rid
}

// serveEcho runs the connection's read loop until the peer disconnects or a
// fatal error occurs, dispatching each complete text message to
// runCommand.
func serveEcho(log zerolog.Logger, conn *websocket.Conn, reg *registry.Registry) {
	for {
		bt, payload, err := conn.ReadMessage(1 << 20)
		if err != nil {
			if websocket.IsCloseError(err) {
				log.Info().Msg("connection closed")
			} else {
				log.Warn().Err(err).Msg("receive failed")
			}
			return
		}

		switch bt {
		case websocket.Ping:
			if err := conn.Pong(payload); err != nil {
				log.Warn().Err(err).Msg("pong failed")
				return
			}
		case websocket.Pong:
			// unsolicited pong, nothing to do
		case websocket.Close:
			_ = conn.Close(websocket.CloseNormalClosure, "")
			return
		case websocket.UtfMessage:
			reply, shouldClose := runCommand(string(payload), reg)
			if shouldClose {
				_ = conn.Close(websocket.CloseNormalClosure, reply)
				return
			}
			if err := conn.WriteText(reply); err != nil {
				log.Warn().Err(err).Msg("write failed")
				return
			}
		case websocket.BinaryMessage:
			if err := conn.WriteBinary(payload); err != nil {
				log.Warn().Err(err).Msg("write failed")
				return
			}
		}
	}
}

// runCommand implements wsecho's command vocabulary, matching
// original_source/main.cpp's test harness: "send-exit" tells the caller to
// close the connection with a normal-closure status and the reason "User
// requested"; "send-connection-count" reports the registry's live
// connection count; anything else is echoed back prefixed with "echo: ",
// exactly as the original's default branch did.
func runCommand(line string, reg *registry.Registry) (reply string, shouldClose bool) {
	switch strings.TrimSpace(line) {
	case "send-exit":
		return "User requested", true
	case "send-connection-count":
		return strconv.Itoa(reg.Count()), false
	default:
		return "echo: " + line, false
	}
}
