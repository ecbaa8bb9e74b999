// Package ytdlp lists channel items by running yt-dlp in flat-playlist mode.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"ytnotify/internal/domain"
	logx "ytnotify/pkg/logx"
)

// Config configures the yt-dlp invocation.
type Config struct {
	// Binary is the yt-dlp executable (default "yt-dlp", resolved through PATH).
	Binary string
	// NoCheckCertificate passes --no-check-certificate.
	NoCheckCertificate bool
	// ExtraArgs are appended before the URL.
	ExtraArgs []string
}

// Runner executes a command and returns its stdout. Tests replace it.
type Runner func(ctx context.Context, name string, args ...string) (stdout []byte, err error)

// ExecRunner runs the command with os/exec. stderr is folded into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

type Provider struct {
	cfg Config
	run Runner
	log logx.Logger
}

func New(cfg Config, run Runner, log logx.Logger) *Provider {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "yt-dlp"
	}
	if run == nil {
		run = ExecRunner
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{cfg: cfg, run: run, log: log.With(logx.String("comp", "provider.ytdlp"))}
}

// Args builds the yt-dlp argument list for one fetch.
func (p *Provider) Args(channelURL string, count int) []string {
	args := []string{"--flat-playlist", "--dump-single-json", "--no-warnings"}
	if count > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(count))
	}
	if p.cfg.NoCheckCertificate {
		args = append(args, "--no-check-certificate")
	}
	args = append(args, p.cfg.ExtraArgs...)
	return append(args, channelURL)
}

// FetchRecent returns up to count items, newest first as yt-dlp lists them.
func (p *Provider) FetchRecent(ctx context.Context, channelURL string, count int) ([]domain.Item, error) {
	out, err := p.run(ctx, p.cfg.Binary, p.Args(channelURL, count)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return nil, fmt.Errorf("yt-dlp %s: %w: %w", channelURL, domain.ErrProviderUnavailable, err)
	}
	items, err := Parse(out)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp %s: %w: %w", channelURL, domain.ErrProviderUnavailable, err)
	}
	if count > 0 && len(items) > count {
		items = items[:count]
	}
	p.log.Debug("fetched", logx.String("url", channelURL), logx.Int("items", len(items)))
	return items, nil
}

type playlist struct {
	Type     string  `json:"_type"`
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Channel  string  `json:"channel"`
	Uploader string  `json:"uploader"`
	Entries  []entry `json:"entries"`
}

type entry struct {
	Type        string   `json:"_type"`
	IEKey       string   `json:"ie_key"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Duration    *float64 `json:"duration"`
	URL         string   `json:"url"`
	WebpageURL  string   `json:"webpage_url"`
	Channel     string   `json:"channel"`
	Uploader    string   `json:"uploader"`
	Entries     []entry  `json:"entries"`
}

// Parse decodes yt-dlp --dump-single-json output. Nested playlists (channel tabs) are flattened;
// an id listed under several tabs is kept once, at its first position.
func Parse(b []byte) ([]domain.Item, error) {
	var pl playlist
	if err := json.Unmarshal(b, &pl); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	channelName := firstNonEmpty(pl.Channel, pl.Uploader, pl.Title)

	var items []domain.Item
	seen := map[string]bool{}
	var walk func(es []entry, name string)
	walk = func(es []entry, name string) {
		for _, e := range es {
			if len(e.Entries) > 0 {
				walk(e.Entries, firstNonEmpty(e.Channel, e.Uploader, name))
				continue
			}
			if e.ID == "" || strings.HasSuffix(e.IEKey, "Tab") || e.Type == "playlist" || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			items = append(items, toItem(e, name))
		}
	}
	walk(pl.Entries, channelName)
	return items, nil
}

func toItem(e entry, channelName string) domain.Item {
	it := domain.Item{
		ID:          e.ID,
		Title:       e.Title,
		URL:         itemURL(e),
		ChannelName: firstNonEmpty(e.Channel, e.Uploader, channelName),
	}
	if e.Description != nil {
		it.Description = *e.Description
	}
	if e.Duration != nil && *e.Duration >= 0 {
		n := int(math.Round(*e.Duration))
		it.Length = &n
	}
	return it
}

// itemURL prefers the entry's own http(s) url, then webpage_url, then a YouTube watch URL.
func itemURL(e entry) string {
	for _, u := range []string{e.URL, e.WebpageURL} {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u
		}
	}
	return "https://www.youtube.com/watch?v=" + e.ID
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
