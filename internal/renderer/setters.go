package renderer

import (
	"strings"

	"go.uber.org/zap"
)

// Placeholders substituted in setter arguments
const (
	argPath   = "{path}"
	argOutput = "{output}"
)

// Setter describes an external still-image wallpaper tool
type Setter struct {
	Name   string
	Binary string
	// Output holds the invocations for a single named output, run in order.
	// Empty when the tool can only target every output at once.
	Output [][]string
	// Global holds the invocations that target every output
	Global [][]string
	// Persistent tools keep drawing only while their process lives
	Persistent bool
	// Query prints the current wallpaper so it can be put back on exit
	Query []string
}

// PerOutput reports whether the setter can address individual outputs
func (s Setter) PerOutput() bool {
	return len(s.Output) > 0
}

// Invocations returns the argument lists for path on output. An empty
// output (unstable display identity) selects the global form.
func (s Setter) Invocations(output, path string) [][]string {
	steps := s.Global
	if output != "" && s.PerOutput() {
		steps = s.Output
	}

	out := make([][]string, 0, len(steps))
	for _, step := range steps {
		args := make([]string, len(step))
		for i, arg := range step {
			arg = strings.ReplaceAll(arg, argPath, path)
			args[i] = strings.ReplaceAll(arg, argOutput, output)
		}
		out = append(out, args)
	}
	return out
}

// Ordered list of wallpaper setters to try (highest priority first)
var setters = []Setter{
	// Hyprland / wlroots - swww (recommended)
	{
		Name:   "swww",
		Binary: "swww",
		Output: [][]string{{"img", "-o", argOutput, argPath}},
		Global: [][]string{{"img", argPath}},
	},
	// Hyprland - hyprpaper
	{
		Name:   "hyprpaper",
		Binary: "hyprctl",
		Output: [][]string{
			{"hyprpaper", "preload", argPath},
			{"hyprpaper", "wallpaper", argOutput + "," + argPath},
		},
		Global: [][]string{
			{"hyprpaper", "preload", argPath},
			{"hyprpaper", "wallpaper", "," + argPath},
		},
	},
	// swaybg (Sway/Wayland)
	{
		Name:       "swaybg",
		Binary:     "swaybg",
		Output:     [][]string{{"-o", argOutput, "-i", argPath, "-m", "fill"}},
		Global:     [][]string{{"-i", argPath, "-m", "fill"}},
		Persistent: true,
	},
	// GNOME, light and dark variants
	{
		Name:   "gnome",
		Binary: "gsettings",
		Global: [][]string{
			{"set", "org.gnome.desktop.background", "picture-uri", "file://" + argPath},
			{"set", "org.gnome.desktop.background", "picture-uri-dark", "file://" + argPath},
		},
		Query: []string{"get", "org.gnome.desktop.background", "picture-uri"},
	},
	// Generic X11 - feh
	{
		Name:   "feh",
		Binary: "feh",
		Global: [][]string{{"--bg-fill", argPath}},
	},
	// Generic X11 - nitrogen
	{
		Name:   "nitrogen",
		Binary: "nitrogen",
		Global: [][]string{{"--set-zoom-fill", argPath}},
	},
}

// videoPlayer loops a muted video on one output, or on all of them
var videoPlayer = struct {
	Binary string
	All    string
}{Binary: "mpvpaper", All: "ALL"}

func videoArgs(output, path string) []string {
	if output == "" {
		output = videoPlayer.All
	}
	return []string{"-o", "no-audio loop", output, path}
}

// detectSetter analyzes the environment to choose the best setter.
// getenv and exists are injected so detection can be tested.
func detectSetter(logger *zap.Logger, getenv func(string) string, exists func(string) bool) (Setter, bool) {
	desktop := getenv("XDG_CURRENT_DESKTOP")
	session := getenv("XDG_SESSION_TYPE")
	wayland := getenv("WAYLAND_DISPLAY")
	hyprland := getenv("HYPRLAND_INSTANCE_SIGNATURE")

	logger.Debug("Detecting wallpaper setter",
		zap.String("desktop", desktop),
		zap.String("session", session),
		zap.String("wayland", wayland),
		zap.String("hyprland", hyprland))

	pick := func(names ...string) (Setter, bool) {
		for _, s := range setters {
			for _, name := range names {
				if s.Name == name && exists(s.Binary) {
					return s, true
				}
			}
		}
		return Setter{}, false
	}

	if hyprland != "" {
		if s, ok := pick("swww", "hyprpaper"); ok {
			return s, true
		}
	}

	if strings.Contains(strings.ToLower(desktop), "gnome") {
		if s, ok := pick("gnome"); ok {
			return s, true
		}
	}

	if wayland != "" || session == "wayland" {
		if s, ok := pick("swww", "swaybg"); ok {
			return s, true
		}
	}

	// Fallback: try all setters in order
	for _, s := range setters {
		if exists(s.Binary) {
			logger.Info("Using fallback wallpaper setter", zap.String("name", s.Name))
			return s, true
		}
	}
	return Setter{}, false
}
