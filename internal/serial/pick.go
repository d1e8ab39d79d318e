package serial

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dshills/piotask/internal/pio"
)

// CustomLabel is the picker entry that asks for a free-form port.
const CustomLabel = "Custom…"

// PortLister enumerates serial ports.
type PortLister interface {
	ListPorts(ctx context.Context) ([]pio.Port, error)
}

// Item is one entry of a pick list.
type Item struct {
	Label       string
	Description string
	Detail      string
}

// Prompter shows prompts. ok is false when the user cancels.
type Prompter interface {
	Pick(ctx context.Context, title string, items []Item) (index int, ok bool, err error)
	Input(ctx context.Context, prompt, value string) (text string, ok bool, err error)
}

// Choose asks the user for a port. It offers Auto, every port the lister
// reports and a custom entry. The result is "" for Auto. ok is false when
// any prompt was cancelled. A failing lister only hides the port entries.
func Choose(ctx context.Context, lister PortLister, prompter Prompter, current string, log *slog.Logger) (port string, ok bool, err error) {
	ports, err := lister.ListPorts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		if log != nil {
			log.Warn("listing serial ports failed", "error", err)
		}
		ports = nil
	}

	items := make([]Item, 0, len(ports)+2)
	items = append(items, Item{Label: AutoLabel, Description: "let PlatformIO detect the port"})
	for _, p := range ports {
		items = append(items, Item{Label: p.Port, Description: p.Description, Detail: p.HWID})
	}
	items = append(items, Item{Label: CustomLabel, Description: "enter a port by hand"})
	for i := range items {
		if isCurrent(items[i].Label, current) {
			items[i].Description = strings.TrimSpace(items[i].Description + " (current)")
		}
	}

	idx, ok, err := prompter.Pick(ctx, "Select serial port", items)
	if err != nil || !ok || idx < 0 || idx >= len(items) {
		return "", false, err
	}

	switch idx {
	case 0:
		return "", true, nil
	case len(items) - 1:
		text, ok, err := prompter.Input(ctx, "Serial port (e.g. /dev/ttyUSB0 or COM3)", current)
		if err != nil || !ok {
			return "", false, err
		}
		return strings.TrimSpace(text), true, nil
	default:
		return ports[idx-1].Port, true, nil
	}
}

func isCurrent(label, current string) bool {
	if current == "" {
		return label == AutoLabel
	}
	return label == current
}
