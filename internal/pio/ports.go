package pio

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// Port is a serial port reported by `pio device list`.
type Port struct {
	Port        string `json:"port"`
	Description string `json:"description"`
	HWID        string `json:"hwid"`
}

// Lister enumerates serial ports.
type Lister interface {
	ListPorts(ctx context.Context) ([]Port, error)
}

// PortLister lists ports through a Runner.
type PortLister struct {
	Runner Runner
	Dir    string
}

// ListPorts implements Lister.
func (l PortLister) ListPorts(ctx context.Context) ([]Port, error) {
	return ListPorts(ctx, l.Runner, l.Dir)
}

// ListPorts runs `pio device list --serial --json-output`.
func ListPorts(ctx context.Context, r Runner, dir string) ([]Port, error) {
	out, err := r.Run(ctx, dir, "device", "list", "--serial", "--json-output")
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return parsePorts(out)
}

func parsePorts(data []byte) ([]Port, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("listing serial ports: invalid JSON output")
	}
	var ports []Port
	gjson.ParseBytes(data).ForEach(func(_, item gjson.Result) bool {
		p := Port{
			Port:        item.Get("port").String(),
			Description: item.Get("description").String(),
			HWID:        item.Get("hwid").String(),
		}
		if p.Port != "" {
			ports = append(ports, p)
		}
		return true
	})
	return ports, nil
}
