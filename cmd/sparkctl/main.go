package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DoyleJ11/spark-client/internal/api"
	"github.com/DoyleJ11/spark-client/internal/auth"
	"github.com/DoyleJ11/spark-client/internal/config"
	"github.com/DoyleJ11/spark-client/internal/controller"
	"github.com/DoyleJ11/spark-client/internal/logging"
	"github.com/DoyleJ11/spark-client/internal/realtime"
	"go.uber.org/zap"
)

const help = `commands:
  join            start matchmaking
  exit            leave queue or session
  skip            leave this session and search again
  say <text>      send a chat message
  like / unlike   set your like for this session
  continue        open the chat after a mutual match
  keep            keep matching after a mutual match
  state           print the current state
  quit`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sparkctl:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	var devUID, devName string
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "backend base URL")
	flag.StringVar(&cfg.WSURL, "ws", cfg.WSURL, "realtime URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "bearer token")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, error")
	flag.BoolVar(&cfg.Dev, "dev", cfg.Dev, "console logs")
	flag.StringVar(&devUID, "dev-uid", "", "fetch a token for this uid from the dev backend")
	flag.StringVar(&devName, "dev-name", "", "first name for -dev-uid")
	flag.Parse()

	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if devUID != "" {
		if cfg.Token, err = fetchDevToken(ctx, cfg.APIURL, devUID, devName); err != nil {
			return err
		}
	}
	if cfg.Token == "" {
		return errors.New("no token: set SPARK_TOKEN, -token or -dev-uid")
	}

	sess := auth.NewSession(auth.WithLogger(log.Named("auth")))
	if err := sess.SetToken(cfg.Token); err != nil {
		return err
	}
	sess.OnSignOut(func() {
		fmt.Println("signed out: token expired or rejected")
		stop()
	})

	ws := realtime.NewWS(cfg.WSURL, sess, realtime.WithLogger(log.Named("realtime")))
	go func() { _ = ws.Run(ctx) }()

	client := api.NewClient(cfg.APIURL, sess, api.WithLogger(log.Named("api")))
	ctl := controller.New(client, ws, controller.WithLogger(log.Named("controller")))
	ctl.Start(ctx)
	defer ctl.Stop()

	go render(ctl.Watch("cli", 32))

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handle(ctx, ctl, line)
			if err != nil {
				log.Warn("command failed", zap.String("line", line), zap.Error(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, ctl *controller.Controller, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false, nil
	case "join":
		return false, ctl.Join()
	case "exit":
		return false, ctl.Exit()
	case "skip":
		return false, ctl.Skip()
	case "say":
		return false, ctl.Send(arg)
	case "like":
		return false, ctl.Like(true)
	case "unlike":
		return false, ctl.Like(false)
	case "continue":
		return false, ctl.ContinueChat()
	case "keep":
		return false, ctl.KeepMatching()
	case "state":
		v, err := ctl.State(ctx)
		if err != nil {
			return false, err
		}
		out, _ := json.MarshalIndent(v.State, "", "  ")
		fmt.Println(string(out))
		return false, nil
	case "quit":
		// Leave whatever we are in before going.
		return true, ctl.Exit()
	default:
		fmt.Println(help)
		return false, nil
	}
}

func fetchDevToken(ctx context.Context, baseURL, uid, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"uid": uid, "first_name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/auth/dev-token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := &http.Client{Timeout: 10 * time.Second}
	res, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("dev token: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("dev token: status %d", res.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("dev token: %w", err)
	}
	return out.Token, nil
}
