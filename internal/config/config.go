package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Client struct {
	APIURL   string
	WSURL    string
	Token    string
	LogLevel string
	Dev      bool
}

type DevServer struct {
	Addr                string
	JWTSecret           string
	DatabaseURL         string
	TimeoutSeconds      int
	PollIntervalSeconds int
	LogLevel            string
	Dev                 bool
}

// LoadEnv reads .env style files into the process environment. Missing
// files are skipped; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadClient() (Client, error) {
	dev, err := getBool("SPARK_DEV", false)
	if err != nil {
		return Client{}, err
	}
	c := Client{
		APIURL:   strings.TrimRight(getenv("SPARK_API_URL", "http://localhost:8000"), "/"),
		WSURL:    os.Getenv("SPARK_WS_URL"),
		Token:    os.Getenv("SPARK_TOKEN"),
		LogLevel: getenv("SPARK_LOG_LEVEL", "info"),
		Dev:      dev,
	}
	if c.WSURL == "" {
		c.WSURL, err = DeriveWSURL(c.APIURL)
		if err != nil {
			return Client{}, err
		}
	}
	return c, nil
}

// DeriveWSURL maps http(s)://host/base to ws(s)://host/base/ws.
func DeriveWSURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("SPARK_API_URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("SPARK_API_URL: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func LoadDevServer() (DevServer, error) {
	timeout, err := getInt("DEVSERVER_TIMEOUT_SECONDS", 15)
	if err != nil {
		return DevServer{}, err
	}
	interval, err := getInt("DEVSERVER_POLL_INTERVAL_SECONDS", 3)
	if err != nil {
		return DevServer{}, err
	}
	dev, err := getBool("SPARK_DEV", true)
	if err != nil {
		return DevServer{}, err
	}
	if timeout <= 0 || interval <= 0 {
		return DevServer{}, errors.New("timeout and poll interval must be positive")
	}
	return DevServer{
		Addr:                getenv("DEVSERVER_ADDR", ":8000"),
		JWTSecret:           getenv("DEVSERVER_JWT_SECRET", "dev-secret"),
		DatabaseURL:         os.Getenv("DEVSERVER_DATABASE_URL"),
		TimeoutSeconds:      timeout,
		PollIntervalSeconds: interval,
		LogLevel:            getenv("SPARK_LOG_LEVEL", "info"),
		Dev:                 dev,
	}, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
