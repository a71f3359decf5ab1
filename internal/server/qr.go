package server

import (
	"fmt"
	"image/color"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/internal/cache"
	"github.com/kkkkikiki/voucher/internal/config"
)

const (
	minQRSize = 64
	maxQRSize = 1024
)

var qrCodePattern = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)

// QRHandler renders a voucher code as a PNG QR image. The image depends only
// on the code and size, so it is served as immutable.
type QRHandler struct {
	size       int
	foreground color.Color
	background color.Color
	cache      cache.QRCache
	logger     *zap.Logger
}

// NewQRHandler creates a QRHandler from the QR settings
func NewQRHandler(cfg config.QRConfig, qrCache cache.QRCache, logger *zap.Logger) (*QRHandler, error) {
	fg, err := parseHexColor(cfg.Foreground)
	if err != nil {
		return nil, fmt.Errorf("QR_FOREGROUND: %w", err)
	}
	bg, err := parseHexColor(cfg.Background)
	if err != nil {
		return nil, fmt.Errorf("QR_BACKGROUND: %w", err)
	}
	return &QRHandler{
		size:       cfg.Size,
		foreground: fg,
		background: bg,
		cache:      qrCache,
		logger:     logger,
	}, nil
}

func (h *QRHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	if !qrCodePattern.MatchString(code) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "code must be 4 to 32 letters or digits")
		return
	}
	size := h.sizeFrom(r)

	png, hit, err := h.cache.Get(r.Context(), code, size)
	if err != nil {
		h.logger.Warn("qr cache read failed", zap.Error(err))
	}
	if !hit {
		png, err = h.render(code, size)
		if err != nil {
			h.logger.Error("qr render failed", zap.String("code", code), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
			return
		}
		if err := h.cache.Set(r.Context(), code, size, png); err != nil {
			h.logger.Warn("qr cache write failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *QRHandler) render(code string, size int) ([]byte, error) {
	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	q.ForegroundColor = h.foreground
	q.BackgroundColor = h.background
	return q.PNG(size)
}

// sizeFrom reads ?size=, clamped to the supported range. Anything
// unparsable falls back to the configured default.
func (h *QRHandler) sizeFrom(r *http.Request) int {
	raw := r.URL.Query().Get("size")
	if raw == "" {
		return h.size
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return h.size
	}
	return max(minQRSize, min(size, maxQRSize))
}

// parseHexColor accepts #RRGGBB.
func parseHexColor(s string) (color.Color, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
