package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
)

// VibeCanvasName is the service name in the gateway registry.
const VibeCanvasName = "vibe-canvas"

// Canvas defaults.
const (
	canvasDefaultSize = 64
	canvasMaxSize     = 256
	canvasHistoryCap  = 100
)

// defaultPalette is the starting colour set, a small web-safe spread.
var defaultPalette = []any{
	"#FFFFFF", "#000000", "#FF4500", "#FFA800", "#FFD635", "#00A368",
	"#7EED56", "#2450A4", "#3690EA", "#51E9F4", "#811E9F", "#B44AC0",
	"#FF99AA", "#9C6926", "#898D90", "#D4D7D9",
}

// VibeCanvas is a shared pixel canvas per guild, one document apiece at
// data/<guild>/canvas.json.
type VibeCanvas struct {
	store *guilddata.Store
}

// NewVibeCanvas builds the vibe-canvas backend.
func NewVibeCanvas(store *guilddata.Store) *Backend {
	c := &VibeCanvas{store: store}
	return newBackend(VibeCanvasName, []toolDef{
		{"canvas_place_bit", "Place one pixel on the guild canvas", c.placeBit},
		{"canvas_remove_bit", "Remove one pixel", c.removeBit},
		{"canvas_get", "Fetch the full canvas state", c.get},
		{"canvas_snapshot", "Record a named snapshot of the canvas", c.snapshot},
		{"canvas_clear", "Erase every pixel", c.clear},
		{"canvas_get_user_bits", "List one user's pixels", c.getUserBits},
		{"canvas_set_size", "Resize the canvas", c.setSize},
		{"canvas_get_palette", "Fetch the colour palette", c.getPalette},
		{"canvas_set_palette", "Replace the colour palette", c.setPalette},
		{"canvas_export_image", "Render the canvas to a PNG", c.exportImage},
		{"canvas_get_history", "Fetch recent placements", c.getHistory},
		{"canvas_lock", "Lock the canvas against placements", c.lock},
		{"canvas_unlock", "Unlock the canvas", c.unlock},
	})
}

func (c *VibeCanvas) doc(guildID string) *guilddata.Document {
	return c.store.Document(filepath.Join(guildID, "canvas.json"))
}

func canvasSize(obj map[string]any) (int, int) {
	w, _ := obj["width"].(float64)
	h, _ := obj["height"].(float64)
	if w <= 0 {
		w = canvasDefaultSize
	}
	if h <= 0 {
		h = canvasDefaultSize
	}
	return int(w), int(h)
}

func canvasBits(obj map[string]any) map[string]any {
	bits, _ := obj["bits"].(map[string]any)
	if bits == nil {
		bits = map[string]any{}
	}
	return bits
}

func (c *VibeCanvas) placeBit(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "user_id", "color"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	userID := stringArg(args, "user_id")
	col := stringArg(args, "color")
	x, okX := intArg(args, "x")
	y, okY := intArg(args, "y")
	if !okX || !okY {
		return nil, errs.Validation("x", "x and y coordinates are required")
	}

	var placed map[string]any
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		if locked, _ := obj["locked"].(bool); locked {
			return errs.AccessDenied("canvas is locked")
		}
		w, h := canvasSize(obj)
		if x < 0 || y < 0 || x >= w || y >= h {
			return errs.Validation("x", fmt.Sprintf("coordinates (%d,%d) outside %dx%d canvas", x, y, w, h))
		}
		bits := canvasBits(obj)
		placed = map[string]any{
			"x": x, "y": y,
			"color":     col,
			"user_id":   userID,
			"placed_at": nowStamp(),
		}
		bits[bitKey(x, y)] = placed
		obj["bits"] = bits
		appendHistory(obj, map[string]any{
			"action": "place", "x": x, "y": y, "color": col, "user_id": userID, "at": placed["placed_at"],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "bit": placed}, nil
}

func (c *VibeCanvas) removeBit(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "user_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	x, okX := intArg(args, "x")
	y, okY := intArg(args, "y")
	if !okX || !okY {
		return nil, errs.Validation("x", "x and y coordinates are required")
	}

	removed := false
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		if locked, _ := obj["locked"].(bool); locked {
			return errs.AccessDenied("canvas is locked")
		}
		bits := canvasBits(obj)
		if _, ok := bits[bitKey(x, y)]; ok {
			removed = true
			delete(bits, bitKey(x, y))
			obj["bits"] = bits
			appendHistory(obj, map[string]any{
				"action": "remove", "x": x, "y": y, "user_id": stringArg(args, "user_id"), "at": nowStamp(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "removed": removed}, nil
}

func (c *VibeCanvas) get(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	obj, err := c.doc(stringArg(args, "guild_id")).Load()
	if err != nil {
		return nil, err
	}
	w, h := canvasSize(obj)
	locked, _ := obj["locked"].(bool)
	return map[string]any{
		"guild_id": stringArg(args, "guild_id"),
		"width":    w,
		"height":   h,
		"locked":   locked,
		"bits":     canvasBits(obj),
		"palette":  c.palette(obj),
	}, nil
}

func (c *VibeCanvas) snapshot(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	snapshotID := uuid.NewString()
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		snapshots, _ := obj["snapshots"].([]any)
		obj["snapshots"] = append(snapshots, map[string]any{
			"snapshot_id": snapshotID,
			"label":       stringArg(args, "label"),
			"taken_at":    nowStamp(),
			"bit_count":   len(canvasBits(obj)),
			"bits":        canvasBits(obj),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "snapshot_id": snapshotID}, nil
}

func (c *VibeCanvas) clear(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	cleared := 0
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		cleared = len(canvasBits(obj))
		obj["bits"] = map[string]any{}
		appendHistory(obj, map[string]any{
			"action": "clear", "user_id": stringArg(args, "user_id"), "at": nowStamp(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "cleared": cleared}, nil
}

func (c *VibeCanvas) getUserBits(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "user_id"); err != nil {
		return nil, err
	}
	obj, err := c.doc(stringArg(args, "guild_id")).Load()
	if err != nil {
		return nil, err
	}
	userID := stringArg(args, "user_id")
	mine := []any{}
	for _, v := range canvasBits(obj) {
		if bit, ok := v.(map[string]any); ok && bit["user_id"] == userID {
			mine = append(mine, bit)
		}
	}
	return map[string]any{"user_id": userID, "bits": mine, "count": len(mine)}, nil
}

func (c *VibeCanvas) setSize(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	width, okW := intArg(args, "width")
	height, okH := intArg(args, "height")
	if !okW || !okH || width < 1 || height < 1 || width > canvasMaxSize || height > canvasMaxSize {
		return nil, errs.Validation("width", fmt.Sprintf("width and height must be within 1..%d", canvasMaxSize))
	}
	guildID := stringArg(args, "guild_id")
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		obj["width"] = width
		obj["height"] = height
		// Bits outside the new bounds are dropped.
		bits := canvasBits(obj)
		for key, v := range bits {
			bit, ok := v.(map[string]any)
			if !ok {
				delete(bits, key)
				continue
			}
			x, _ := bit["x"].(float64)
			y, _ := bit["y"].(float64)
			if int(x) >= width || int(y) >= height {
				delete(bits, key)
			}
		}
		obj["bits"] = bits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "width": width, "height": height}, nil
}

func (c *VibeCanvas) getPalette(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	obj, err := c.doc(stringArg(args, "guild_id")).Load()
	if err != nil {
		return nil, err
	}
	return map[string]any{"palette": c.palette(obj)}, nil
}

func (c *VibeCanvas) setPalette(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	colors := sliceArg(args, "palette")
	if len(colors) == 0 {
		return nil, errs.Validation("palette", "must be a non-empty list of colors")
	}
	for _, col := range colors {
		if _, err := parseHexColor(col); err != nil {
			return nil, errs.Validation("palette", "invalid color "+col)
		}
	}
	guildID := stringArg(args, "guild_id")
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		palette := make([]any, 0, len(colors))
		for _, col := range colors {
			palette = append(palette, col)
		}
		obj["palette"] = palette
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "palette": colors}, nil
}

func (c *VibeCanvas) exportImage(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	obj, err := c.doc(stringArg(args, "guild_id")).Load()
	if err != nil {
		return nil, err
	}
	w, h := canvasSize(obj)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	for _, v := range canvasBits(obj) {
		bit, ok := v.(map[string]any)
		if !ok {
			continue
		}
		x, _ := bit["x"].(float64)
		y, _ := bit["y"].(float64)
		col, err := parseHexColor(stringArg(bit, "color"))
		if err != nil {
			continue
		}
		img.Set(int(x), int(y), col)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errs.Internal("encode canvas image", err)
	}
	return map[string]any{
		"format":       "png",
		"width":        w,
		"height":       h,
		"image_base64": base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func (c *VibeCanvas) getHistory(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	obj, err := c.doc(stringArg(args, "guild_id")).Load()
	if err != nil {
		return nil, err
	}
	history, _ := obj["history"].([]any)
	return map[string]any{"history": history, "count": len(history)}, nil
}

func (c *VibeCanvas) lock(_ context.Context, args map[string]any) (map[string]any, error) {
	return c.setLocked(args, true)
}

func (c *VibeCanvas) unlock(_ context.Context, args map[string]any) (map[string]any, error) {
	return c.setLocked(args, false)
}

func (c *VibeCanvas) setLocked(args map[string]any, locked bool) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	err := c.doc(guildID).Update(func(obj map[string]any) error {
		obj["locked"] = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "locked": locked}, nil
}

func (c *VibeCanvas) palette(obj map[string]any) []any {
	palette, _ := obj["palette"].([]any)
	if len(palette) == 0 {
		return defaultPalette
	}
	return palette
}

func bitKey(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

// appendHistory keeps a bounded trail of recent canvas actions.
func appendHistory(obj map[string]any, entry map[string]any) {
	history, _ := obj["history"].([]any)
	history = append(history, entry)
	if len(history) > canvasHistoryCap {
		history = history[len(history)-canvasHistoryCap:]
	}
	obj["history"] = history
}

// intArg reads an integer argument arriving as a JSON number or numeric
// string.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// parseHexColor decodes #RRGGBB.
func parseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("expected #RRGGBB, got %q", s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, err
	}
	return color.RGBA{
		R: uint8(n >> 16),
		G: uint8(n >> 8),
		B: uint8(n),
		A: 0xFF,
	}, nil
}
