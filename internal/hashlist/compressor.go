package hashlist

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

var commandContext = exec.CommandContext

// Compressor turns the exported JSON into a shareable text blob and back.
type Compressor interface {
	Compress(ctx context.Context, data string) (string, error)
	Decompress(ctx context.Context, blob string) (string, error)
}

// ExecCompressor pipes data through an external command. The mode
// ("compress" or "decompress") is appended to Args.
type ExecCompressor struct {
	Command string
	Args    []string
}

func (c ExecCompressor) Compress(ctx context.Context, data string) (string, error) {
	return c.run(ctx, "compress", data)
}

func (c ExecCompressor) Decompress(ctx context.Context, blob string) (string, error) {
	return c.run(ctx, "decompress", blob)
}

func (c ExecCompressor) run(ctx context.Context, mode, input string) (string, error) {
	if c.Command == "" {
		return "", errors.New("compressor command not configured")
	}
	args := append(append([]string{}, c.Args...), mode)
	cmd := commandContext(ctx, c.Command, args...) //nolint:gosec
	cmd.Stdin = strings.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", c.Command, mode, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// GzipCompressor produces base64-encoded gzip. It is the default when no
// external command is configured.
type GzipCompressor struct{}

func (GzipCompressor) Compress(_ context.Context, data string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(zw, data); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (GzipCompressor) Decompress(_ context.Context, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("gzip read: %w", err)
	}
	return string(out), nil
}

// ExportItem is the portable form of a hashlist entry.
type ExportItem struct {
	Hash     string `json:"hash"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
}

// ExportCompressed serializes every entry as [{hash, filename, bytes}] and
// compresses the JSON.
func (s *Store) ExportCompressed(ctx context.Context) (string, error) {
	s.mu.Lock()
	if err := s.lock.RLock(); err != nil {
		s.mu.Unlock()
		return "", storeErr("lock hashlist", err)
	}
	entries, err := s.all()
	_ = s.lock.Unlock()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	items := make([]ExportItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, ExportItem{Hash: e.Hash, Filename: e.Filename, Bytes: e.Bytes})
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	blob, err := s.opts.Compressor.Compress(ctx, string(data))
	if err != nil {
		return "", fmt.Errorf("compress export: %w", err)
	}
	return blob, nil
}

// ImportCompressed adds every entry of a compressed export and returns how
// many were accepted. Invalid hashes are skipped.
func (s *Store) ImportCompressed(ctx context.Context, blob string) (int, error) {
	if strings.TrimSpace(blob) == "" {
		return 0, fmt.Errorf("empty import: %w", models.ErrInvalidInput)
	}
	data, err := s.opts.Compressor.Decompress(ctx, blob)
	if err != nil {
		return 0, fmt.Errorf("decompress import: %w: %v", models.ErrInvalidInput, err)
	}
	var items []ExportItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return 0, fmt.Errorf("decode import: %w: %v", models.ErrInvalidInput, err)
	}

	accepted := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		ok, err := s.AddHash(models.HashlistEntry{Hash: item.Hash, Filename: item.Filename, Bytes: item.Bytes})
		if errors.Is(err, models.ErrInvalidInput) {
			s.logger.Debug("[HASHLIST] skipping invalid import entry", "hash", item.Hash)
			continue
		}
		if err != nil {
			return accepted, err
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}
