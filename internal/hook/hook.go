// Package hook runs a user-supplied shell command for every backend a scan
// detects.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maxvaer/lbscan/internal/clue"
	"github.com/maxvaer/lbscan/internal/report"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 30 * time.Second

// backendJSON is the JSON payload sent to the hook command via stdin.
type backendJSON struct {
	URL             string            `json:"url"`
	Addr            string            `json:"addr,omitempty"`
	Plugin          string            `json:"plugin"`
	Topic           string            `json:"topic"`
	Ordinal         int               `json:"ordinal"`
	Server          string            `json:"server,omitempty"`
	Digest          string            `json:"digest"`
	Hits            int               `json:"hits"`
	Percent         float64           `json:"percent"`
	TimeDiff        float64           `json:"time_diff_seconds"`
	ContentLocation string            `json:"content_location,omitempty"`
	Cookies         []string          `json:"cookies,omitempty"`
	Different       []clue.Header     `json:"different_headers,omitempty"`
}

// Runner executes a shell command for each backend record. It implements
// report.Sink; use Bind to attach the scanned target before publishing.
type Runner struct {
	cmd     string
	url     string
	addr    string
	timeout time.Duration
	log     *zap.Logger
}

// NewRunner creates a hook runner. cmd is the shell command to execute.
func NewRunner(cmd string, log *zap.Logger) *Runner {
	return &Runner{cmd: cmd, timeout: DefaultTimeout, log: log.Named("hook")}
}

// Bind returns a copy of r that reports records as belonging to url and
// addr.
func (r *Runner) Bind(url, addr string) *Runner {
	cp := *r
	cp.url = url
	cp.addr = addr
	return &cp
}

// Append runs the hook command with rec as JSON on stdin. The placeholders
// {url}, {addr}, {ordinal}, {digest} and {hits} in the command are replaced
// first. Values sent by the target, such as the Server header, never enter
// the command line; they are passed in the LBSCAN_* environment variables.
// Output of the command is logged at info level.
func (r *Runner) Append(pluginID, topic string, rec report.Record) error {
	payload := backendJSON{
		URL:             r.url,
		Addr:            r.addr,
		Plugin:          pluginID,
		Topic:           topic,
		Ordinal:         rec.Ordinal,
		Server:          rec.Server,
		Digest:          rec.Digest,
		Hits:            rec.Hits,
		Percent:         rec.Percent,
		TimeDiff:        rec.TimeDiff.Seconds(),
		ContentLocation: rec.ContentLocation,
		Cookies:         rec.Cookies,
	}
	payload.Different = rec.Different

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hook: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	expanded := strings.NewReplacer(
		"{url}", r.url,
		"{addr}", r.addr,
		"{ordinal}", strconv.Itoa(rec.Ordinal),
		"{digest}", rec.Digest,
		"{hits}", strconv.Itoa(rec.Hits),
	).Replace(r.cmd)

	shell, args := shellCommand()
	cmd := exec.CommandContext(ctx, shell, append(args, expanded)...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(os.Environ(), r.env(rec)...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		r.log.Warn("hook command failed",
			zap.Int("server", rec.Ordinal),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err))
		return fmt.Errorf("hook: %w", err)
	}

	if out := strings.TrimSpace(string(output)); out != "" {
		r.log.Info(out, zap.Int("server", rec.Ordinal))
	}
	return nil
}

func (r *Runner) env(rec report.Record) []string {
	return []string{
		"LBSCAN_URL=" + r.url,
		"LBSCAN_ADDR=" + r.addr,
		"LBSCAN_ORDINAL=" + strconv.Itoa(rec.Ordinal),
		"LBSCAN_SERVER=" + rec.Server,
		"LBSCAN_DIGEST=" + rec.Digest,
		"LBSCAN_HITS=" + strconv.Itoa(rec.Hits),
		"LBSCAN_CONTENT_LOCATION=" + rec.ContentLocation,
	}
}

func shellCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}
	}
	return "sh", []string{"-c"}
}
